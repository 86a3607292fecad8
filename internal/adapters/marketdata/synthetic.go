// Package marketdata implements ports.MarketData: a deterministic
// synthetic-bar generator for backtests/demos, and an HTTP-polling adapter
// for live reference prices. Grounded on the teacher's
// internal/data/store.go (sample-data generation for symbols with no file
// on disk) and internal/data/market_data.go.
package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

// SyntheticConfig seeds one asset's synthetic price path.
type SyntheticConfig struct {
	AssetSymbol  string
	StartPrice   decimal.Decimal
	DailyVol     float64 // annualized-to-daily volatility fraction, e.g. 0.02
	Seed         int64
	Interval     time.Duration
	MarketHours  types.TradingHoursPolicy
}

// Synthetic is a deterministic, seeded random-walk bar generator. Unlike
// the teacher's generateSampleData (which seeds off time.Now().UnixNano(),
// producing a different path every call), Synthetic uses a fixed
// math/rand.Source per asset so the same [from, to] window always replays
// identical bars — required for reproducible backtests and for the
// simulate engine's determinism invariant.
type Synthetic struct {
	mu     sync.Mutex
	assets map[string]SyntheticConfig
	cache  map[string][]ports.Bar
}

// NewSynthetic constructs a feed serving the given per-asset configs.
func NewSynthetic(configs ...SyntheticConfig) *Synthetic {
	assets := make(map[string]SyntheticConfig, len(configs))
	for _, c := range configs {
		if c.Interval <= 0 {
			c.Interval = 24 * time.Hour
		}
		if c.MarketHours == "" {
			c.MarketHours = types.HoursOpenOnly
		}
		assets[c.AssetSymbol] = c
	}
	return &Synthetic{assets: assets, cache: make(map[string][]ports.Bar)}
}

// LatestQuote returns the last bar's close as of now, generating the series
// up to the current time if needed.
func (s *Synthetic) LatestQuote(ctx context.Context, assetSymbol string) (ports.Quote, error) {
	bars, err := s.Bars(ctx, assetSymbol, time.Time{}, time.Now().UTC(), "")
	if err != nil {
		return ports.Quote{}, err
	}
	if len(bars) == 0 {
		return ports.Quote{}, fmt.Errorf("marketdata: no synthetic bars for %s", assetSymbol)
	}
	last := bars[len(bars)-1]
	return ports.Quote{Price: last.Close, Source: types.SourceSimulated, Timestamp: last.Timestamp, Bar: &last}, nil
}

// Bars generates (or replays from cache) the deterministic bar series for
// assetSymbol covering [from, to]. interval is accepted for port-signature
// compatibility and ignored: the feed always emits bars at its configured
// interval, whatever interval the caller requests.
func (s *Synthetic) Bars(ctx context.Context, assetSymbol string, from, to time.Time, interval string) ([]ports.Bar, error) {
	cfg, ok := s.assets[assetSymbol]
	if !ok {
		return nil, fmt.Errorf("marketdata: unknown synthetic asset %s", assetSymbol)
	}
	if from.IsZero() {
		from = to.Add(-365 * 24 * time.Hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bars, ok := s.cache[assetSymbol]
	if !ok {
		bars = s.generate(cfg, from, to)
		s.cache[assetSymbol] = bars
	} else if len(bars) == 0 || bars[0].Timestamp.After(from) || bars[len(bars)-1].Timestamp.Before(to) {
		// Requested window extends past what's cached; regenerate the full
		// deterministic series rather than patching around the edges, since
		// the generator is a pure function of (cfg, from, to).
		earliestFrom := from
		if len(bars) > 0 && bars[0].Timestamp.Before(earliestFrom) {
			earliestFrom = bars[0].Timestamp
		}
		latestTo := to
		if len(bars) > 0 && bars[len(bars)-1].Timestamp.After(latestTo) {
			latestTo = bars[len(bars)-1].Timestamp
		}
		bars = s.generate(cfg, earliestFrom, latestTo)
		s.cache[assetSymbol] = bars
	}

	return filterRange(bars, from, to), nil
}

// IsMarketOpen applies a standard Mon-Fri 9:30-16:00 America/New_York
// window for OPEN_ONLY assets; EXTENDED assets are always open. No public
// holiday calendar is modeled (out of scope for a synthetic feed).
func (s *Synthetic) IsMarketOpen(ctx context.Context, assetSymbol string, t time.Time) (bool, error) {
	cfg, ok := s.assets[assetSymbol]
	if !ok {
		return false, fmt.Errorf("marketdata: unknown synthetic asset %s", assetSymbol)
	}
	return isOpenAt(cfg.MarketHours, t), nil
}

func isOpenAt(policy types.TradingHoursPolicy, t time.Time) bool {
	if policy == types.HoursExtended {
		return true
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutesOfDay := local.Hour()*60 + local.Minute()
	return minutesOfDay >= 9*60+30 && minutesOfDay < 16*60
}

func (s *Synthetic) generate(cfg SyntheticConfig, from, to time.Time) []ports.Bar {
	src := rand.New(rand.NewSource(cfg.Seed))
	var bars []ports.Bar

	price := cfg.StartPrice
	if price.IsZero() {
		price = decimal.NewFromInt(100)
	}
	vol := cfg.DailyVol
	if vol <= 0 {
		vol = 0.02
	}

	for ts := from; !ts.After(to); ts = ts.Add(cfg.Interval) {
		open := price
		// Box-Muller for an approximately normal step, scaled by vol.
		u1, u2 := src.Float64(), src.Float64()
		z := math.Sqrt(-2*math.Log(u1+1e-12)) * math.Cos(2*math.Pi*u2)
		pctChange := z * vol
		closeF := open.InexactFloat64() * (1 + pctChange)
		if closeF <= 0 {
			closeF = open.InexactFloat64() * 0.99
		}
		closeD := decimal.NewFromFloat(closeF)

		high := decimal.Max(open, closeD).Mul(decimal.NewFromFloat(1 + src.Float64()*0.003))
		low := decimal.Min(open, closeD).Mul(decimal.NewFromFloat(1 - src.Float64()*0.003))
		volume := decimal.NewFromFloat(src.Float64() * 1_000_000)

		bars = append(bars, ports.Bar{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeD,
			Volume:    volume,
		})
		price = closeD
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars
}

func filterRange(bars []ports.Bar, from, to time.Time) []ports.Bar {
	var out []ports.Bar
	for _, b := range bars {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out
}

var _ ports.MarketData = (*Synthetic)(nil)
