// Package ports declares the abstract boundaries between the engine's
// decision core and its infrastructure: market data, brokers, the clock,
// and per-aggregate repositories. Every port is a small interface; the
// usecase and live/simulate layers depend only on these, never on concrete
// adapters.
package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Bar is one OHLCV observation for an asset.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Quote is a point-in-time price observation used for live evaluation.
type Quote struct {
	Price     decimal.Decimal
	Source    types.PriceSource
	Timestamp time.Time
	Bar       *Bar
}

// MarketData resolves live reference prices and historical bar series.
type MarketData interface {
	// LatestQuote returns the current reference price for an asset.
	LatestQuote(ctx context.Context, assetSymbol string) (Quote, error)

	// Bars returns historical OHLCV bars for an asset over [from, to] at the
	// given interval (e.g. "1d", "1h").
	Bars(ctx context.Context, assetSymbol string, from, to time.Time, interval string) ([]Bar, error)

	// IsMarketOpen reports whether the asset's primary market is open at t,
	// used to enforce TradingHoursPolicy.
	IsMarketOpen(ctx context.Context, assetSymbol string, t time.Time) (bool, error)
}
