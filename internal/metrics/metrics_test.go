package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

func TestMetrics_HandlerExposesObservedSeries(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvaluation(types.ActionBuy)
	m.ObserveTrigger("up")
	m.ObserveOrder("buy", types.OrderFilled)
	m.ObserveRejection("below_min_notional")
	m.IncGuardrailSkip()
	m.SetAlertActive("price_data_stale", true)
	m.SetPositionValue("pos-1", 12345.67)
	m.ObserveTickDuration(0.05)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `volbalance_evaluations_total{action="BUY"} 1`)
	assert.Contains(t, body, `volbalance_triggers_total{direction="up"} 1`)
	assert.Contains(t, body, `volbalance_orders_total{side="buy",status="filled"} 1`)
	assert.Contains(t, body, `volbalance_rejections_total{reason="below_min_notional"} 1`)
	assert.Contains(t, body, "volbalance_guardrail_skips_total 1")
	assert.Contains(t, body, `volbalance_alerts_active{condition="price_data_stale"} 1`)
	assert.Contains(t, body, `volbalance_position_value_usd{position_id="pos-1"} 12345.67`)
	assert.True(t, strings.Contains(body, "volbalance_tick_duration_seconds"))
}

func TestMetrics_NilRegistryUsesFreshOne(t *testing.T) {
	m1 := New(nil)
	m2 := New(nil)
	assert.NotPanics(t, func() {
		m1.ObserveEvaluation(types.ActionHold)
		m2.ObserveEvaluation(types.ActionHold)
	})
}
