package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSizer_BuySideWhenPriceAtOrBelowAnchor(t *testing.T) {
	sizer := NewSizer()
	qty := sizer.RawSize(d("100"), d("97"), d("10"), d("1000"), d("1.6667"))
	assert.True(t, qty.GreaterThan(decimal.Zero))
}

func TestSizer_SellSideWhenPriceAboveAnchor(t *testing.T) {
	sizer := NewSizer()
	qty := sizer.RawSize(d("100"), d("103"), d("10"), d("1000"), d("1.6667"))
	assert.True(t, qty.LessThan(decimal.Zero))
}

func TestSizer_ZeroPriceOrAnchorIsZero(t *testing.T) {
	sizer := NewSizer()
	assert.True(t, sizer.RawSize(decimal.Zero, d("100"), d("10"), d("1000"), d("1.6667")).IsZero())
	assert.True(t, sizer.RawSize(d("100"), decimal.Zero, d("10"), d("1000"), d("1.6667")).IsZero())
}

func TestSizer_MagnitudeScalesWithRatio(t *testing.T) {
	sizer := NewSizer()
	small := sizer.RawSize(d("100"), d("97"), d("10"), d("1000"), d("1"))
	large := sizer.RawSize(d("100"), d("97"), d("10"), d("1000"), d("2"))
	assert.True(t, large.GreaterThan(small))
}
