package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

func TestHTTP_LatestQuoteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(quoteResponse{Price: "421.50", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL, "", nil, nil)
	q, err := client.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, types.SourceLastTrade, q.Source)
	assert.Equal(t, "421.5", q.Price.String())
}

func TestHTTP_BarsParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := []barResponse{
			{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Open: "100", High: "105", Low: "99", Close: "104", Volume: "1000"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL, "key", nil, nil)
	bars, err := client.Bars(context.Background(), "SPY", time.Now(), time.Now(), "1d")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "104", bars[0].Close.String())
}

func TestHTTP_ServerErrorRetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL, "", nil, nil)
	_, err := client.LatestQuote(context.Background(), "SPY")
	assert.Error(t, err)
	assert.Equal(t, maxRetries+1, calls)
}

func TestHTTP_ClientErrorFailsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTP(srv.URL, "", nil, nil)
	_, err := client.LatestQuote(context.Background(), "SPY")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTP_IsMarketOpenDefaultsToOpenOnly(t *testing.T) {
	client := NewHTTP("http://example.invalid", "", nil, nil)
	weekend := time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)
	open, err := client.IsMarketOpen(context.Background(), "SPY", weekend)
	require.NoError(t, err)
	assert.False(t, open)
}
