package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPriceTrigger_NoAnchor(t *testing.T) {
	trig := NewPriceTrigger()
	res := trig.Evaluate(decimal.Zero, d("100"), d("0.03"), d("0.03"))
	assert.False(t, res.Fired)
	assert.Equal(t, types.DirectionNone, res.Direction)
	assert.Equal(t, "no_anchor", res.Reason)
}

func TestPriceTrigger_FiresDownOnDrop(t *testing.T) {
	trig := NewPriceTrigger()
	res := trig.Evaluate(d("100"), d("97"), d("0.03"), d("0.03"))
	assert.True(t, res.Fired)
	assert.Equal(t, types.DirectionDown, res.Direction)
}

func TestPriceTrigger_FiresUpOnRise(t *testing.T) {
	trig := NewPriceTrigger()
	res := trig.Evaluate(d("100"), d("103"), d("0.03"), d("0.03"))
	assert.True(t, res.Fired)
	assert.Equal(t, types.DirectionUp, res.Direction)
}

func TestPriceTrigger_ExactEqualityFires(t *testing.T) {
	trig := NewPriceTrigger()
	res := trig.Evaluate(d("100"), d("97"), d("0.03"), d("0.03"))
	assert.True(t, res.Fired)
}

func TestPriceTrigger_WithinBandHolds(t *testing.T) {
	trig := NewPriceTrigger()
	res := trig.Evaluate(d("100"), d("101"), d("0.03"), d("0.03"))
	assert.False(t, res.Fired)
	assert.Equal(t, types.DirectionNone, res.Direction)
}

func TestPriceTrigger_Anomaly(t *testing.T) {
	trig := NewPriceTrigger()
	assert.True(t, trig.IsAnomalous(d("100"), d("160"), d("0.5")))
	assert.False(t, trig.IsAnomalous(d("100"), d("120"), d("0.5")))
}
