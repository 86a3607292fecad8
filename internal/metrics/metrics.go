// Package metrics exposes the engine's Prometheus counters and gauges,
// grounded on chidi150c-coinbase/metrics.go's naming convention
// (bot_<noun>_total) retargeted to volbalance_<noun>, but registered against
// an injected *prometheus.Registry from a constructor instead of package
// globals in init(), matching the rest of this repo's constructor-injection
// style rather than the teacher's single-process-global pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlas-desktop/volbalance/pkg/types"
)

// Metrics bundles every counter/gauge the live engine, simulator, and
// alert worker report against.
type Metrics struct {
	registry *prometheus.Registry

	evaluationsTotal *prometheus.CounterVec
	triggersTotal    *prometheus.CounterVec
	ordersTotal      *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	guardrailSkips   prometheus.Counter
	alertsActive     *prometheus.GaugeVec
	positionValue    *prometheus.GaugeVec
	tickDuration     prometheus.Histogram
}

// New constructs a Metrics bundle and registers every series against reg.
// A nil reg uses a fresh prometheus.NewRegistry() rather than the global
// default registry, so tests and multiple engine instances in one process
// never collide on duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volbalance_evaluations_total",
			Help: "Position evaluations performed, labeled by the resulting action.",
		}, []string{"action"}),
		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volbalance_triggers_total",
			Help: "Price triggers that fired, labeled by direction (up|down).",
		}, []string{"direction"}),
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volbalance_orders_total",
			Help: "Orders submitted, labeled by side and terminal status.",
		}, []string{"side", "status"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volbalance_rejections_total",
			Help: "Orders or fills rejected, labeled by reason.",
		}, []string{"reason"}),
		guardrailSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volbalance_guardrail_skips_total",
			Help: "Proposed trades skipped because a guardrail bound the resulting allocation.",
		}),
		alertsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "volbalance_alerts_active",
			Help: "Currently active alerts, labeled by condition (0 or 1 per condition).",
		}, []string{"condition"}),
		positionValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "volbalance_position_value_usd",
			Help: "Last-evaluated mark-to-market value of a position.",
		}, []string{"position_id"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "volbalance_tick_duration_seconds",
			Help:    "Wall-clock time spent evaluating and submitting for one position tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.evaluationsTotal,
		m.triggersTotal,
		m.ordersTotal,
		m.rejectionsTotal,
		m.guardrailSkips,
		m.alertsActive,
		m.positionValue,
		m.tickDuration,
	)
	return m
}

// Handler returns the promhttp handler serving this bundle's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvaluation records one EvaluatePosition outcome.
func (m *Metrics) ObserveEvaluation(action types.EvaluationAction) {
	m.evaluationsTotal.WithLabelValues(string(action)).Inc()
}

// ObserveTrigger records one fired price trigger.
func (m *Metrics) ObserveTrigger(direction string) {
	m.triggersTotal.WithLabelValues(direction).Inc()
}

// ObserveOrder records one order reaching a terminal status.
func (m *Metrics) ObserveOrder(side string, status types.OrderStatus) {
	m.ordersTotal.WithLabelValues(side, string(status)).Inc()
}

// ObserveRejection records one rejected order or fill, labeled by reason.
func (m *Metrics) ObserveRejection(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// IncGuardrailSkip records one trade skipped by a guardrail bound.
func (m *Metrics) IncGuardrailSkip() {
	m.guardrailSkips.Inc()
}

// SetAlertActive flips the gauge for condition to 1 (active) or 0 (resolved).
func (m *Metrics) SetAlertActive(condition string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.alertsActive.WithLabelValues(condition).Set(v)
}

// SetPositionValue records positionID's latest mark-to-market value.
func (m *Metrics) SetPositionValue(positionID string, valueUSD float64) {
	m.positionValue.WithLabelValues(positionID).Set(valueUSD)
}

// ObserveTickDuration records how long one position tick took.
func (m *Metrics) ObserveTickDuration(seconds float64) {
	m.tickDuration.Observe(seconds)
}
