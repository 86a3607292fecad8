package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

const (
	defaultTimeout    = 10 * time.Second
	maxRetries        = 3
	baseRetryWait     = 500 * time.Millisecond
	defaultRatePerSec = 5
)

// quoteResponse is the wire shape an upstream quote endpoint is expected to
// return: {"price": "123.45", "timestamp": "2026-01-01T00:00:00Z"}.
type quoteResponse struct {
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// barResponse mirrors quoteResponse for a single OHLCV observation.
type barResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    string    `json:"volume"`
}

// HTTP polls a REST market-data provider for quotes and historical bars,
// grounded on AlejandroRuiz99-polybot/internal/adapters/polymarket/
// client.go's rate-limited, retrying GET helper.
type HTTP struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	marketHours map[string]types.TradingHoursPolicy
	logger      *zap.Logger
}

// NewHTTP constructs a polling market-data client against baseURL.
// marketHours maps asset symbols to their trading-hours policy, since the
// upstream provider is not assumed to expose that itself.
func NewHTTP(baseURL, apiKey string, marketHours map[string]types.TradingHoursPolicy, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		client:      &http.Client{Timeout: defaultTimeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		limiter:     rate.NewLimiter(defaultRatePerSec, 10),
		marketHours: marketHours,
		logger:      logger,
	}
}

func (h *HTTP) LatestQuote(ctx context.Context, assetSymbol string) (ports.Quote, error) {
	var resp quoteResponse
	url := fmt.Sprintf("%s/v1/quote?symbol=%s", h.baseURL, assetSymbol)
	if err := h.get(ctx, url, &resp); err != nil {
		return ports.Quote{}, fmt.Errorf("marketdata: fetch quote for %s: %w", assetSymbol, err)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return ports.Quote{}, fmt.Errorf("marketdata: parse quote price for %s: %w", assetSymbol, err)
	}
	return ports.Quote{Price: price, Source: types.SourceLastTrade, Timestamp: resp.Timestamp}, nil
}

func (h *HTTP) Bars(ctx context.Context, assetSymbol string, from, to time.Time, interval string) ([]ports.Bar, error) {
	if interval == "" {
		interval = "1d"
	}
	url := fmt.Sprintf("%s/v1/bars?symbol=%s&from=%s&to=%s&interval=%s",
		h.baseURL, assetSymbol, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), interval)

	var resp []barResponse
	if err := h.get(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("marketdata: fetch bars for %s: %w", assetSymbol, err)
	}

	bars := make([]ports.Bar, 0, len(resp))
	for _, b := range resp {
		open, err1 := decimal.NewFromString(b.Open)
		high, err2 := decimal.NewFromString(b.High)
		low, err3 := decimal.NewFromString(b.Low)
		closeD, err4 := decimal.NewFromString(b.Close)
		volume, err5 := decimal.NewFromString(b.Volume)
		if err := firstErr(err1, err2, err3, err4, err5); err != nil {
			return nil, fmt.Errorf("marketdata: parse bar for %s: %w", assetSymbol, err)
		}
		bars = append(bars, ports.Bar{Timestamp: b.Timestamp, Open: open, High: high, Low: low, Close: closeD, Volume: volume})
	}
	return bars, nil
}

func (h *HTTP) IsMarketOpen(ctx context.Context, assetSymbol string, t time.Time) (bool, error) {
	policy, ok := h.marketHours[assetSymbol]
	if !ok {
		policy = types.HoursOpenOnly
	}
	return isOpenAt(policy, t), nil
}

func (h *HTTP) get(ctx context.Context, url string, out interface{}) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if h.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			h.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			h.logger.Warn("market data provider rate limited us", zap.Int("attempt", attempt+1))
			h.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			h.sleep(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (h *HTTP) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

var _ ports.MarketData = (*HTTP)(nil)
