package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEventsAggregatedTotal = "chart_events_aggregated_total"
	MetricGroupErrorsTotal      = "chart_aggregation_group_errors_total"
	MetricPassDuration          = "chart_aggregation_pass_duration_seconds"
	MetricLastPassTimestamp     = "chart_aggregation_last_pass_timestamp"
	MetricPendingEvents         = "chart_aggregation_pending_events"
)

// Metrics contains Prometheus metrics for the daily aggregator.
// All operations are thread-safe.
type Metrics struct {
	eventsAggregated  prometheus.Counter
	groupErrors       prometheus.Counter
	passDuration      prometheus.Histogram
	lastPassTimestamp prometheus.Gauge
	pendingEvents     prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsAggregatedTotal,
			Help: "Total number of play events folded into daily stats",
		}),
		groupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGroupErrorsTotal,
			Help: "Total number of (track, region) groups that failed to aggregate",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricPassDuration,
			Help:    "Histogram of aggregation pass duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
		lastPassTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastPassTimestamp,
			Help: "Unix timestamp of the last completed aggregation pass",
		}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPendingEvents,
			Help: "Play events still awaiting aggregation after the last pass",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsAggregated,
		m.groupErrors,
		m.passDuration,
		m.lastPassTimestamp,
		m.pendingEvents,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// AddEventsAggregated records folded events.
func (m *Metrics) AddEventsAggregated(n int) {
	m.eventsAggregated.Add(float64(n))
}

// IncGroupErrors increments the failed-group counter.
func (m *Metrics) IncGroupErrors() {
	m.groupErrors.Inc()
}

// ObservePassDuration records a pass duration sample.
func (m *Metrics) ObservePassDuration(seconds float64) {
	m.passDuration.Observe(seconds)
}

// SetLastPassTimestamp records when the last pass finished.
func (m *Metrics) SetLastPassTimestamp(unix float64) {
	m.lastPassTimestamp.Set(unix)
}

// SetPendingEvents records the backlog size.
func (m *Metrics) SetPendingEvents(n int64) {
	m.pendingEvents.Set(float64(n))
}
