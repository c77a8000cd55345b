package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for slot-sentinel.
type Metrics struct {
	registry                 *prometheus.Registry
	cycleDurationSeconds     prometheus.Histogram
	daysTotal                *prometheus.GaugeVec
	improvementsTotal        *prometheus.CounterVec
	failuresTotal            *prometheus.CounterVec
	deliveriesTotal          *prometheus.CounterVec
	cyclesSkippedTotal       prometheus.Counter
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slot_sentinel_cycle_duration_seconds",
			Help:    "Duration of crawl cycles in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		daysTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "slot_sentinel_days_total",
			Help: "Days in the last parsed months by facility and status.",
		}, []string{"facility", "status"}),
		improvementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slot_sentinel_improvements_total",
			Help: "Improved days detected by facility.",
		}, []string{"facility"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slot_sentinel_failures_total",
			Help: "Facility or month failures by kind.",
		}, []string{"facility", "kind"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slot_sentinel_notifications_total",
			Help: "Notification deliveries by result.",
		}, []string{"result"}),
		cyclesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_sentinel_cycles_skipped_total",
			Help: "Cycles skipped because they fell outside the execution window.",
		}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slot_sentinel_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful cycle.",
		}),
	}

	registry.MustRegister(
		m.cycleDurationSeconds,
		m.daysTotal,
		m.improvementsTotal,
		m.failuresTotal,
		m.deliveriesTotal,
		m.cyclesSkippedTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycleDuration records the duration of a completed cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// SetDays sets the day gauge for the given facility/status.
func (m *Metrics) SetDays(facility string, status string, value int) {
	if m == nil {
		return
	}
	m.daysTotal.WithLabelValues(facility, status).Set(float64(value))
}

// AddImprovements adds n improved days for facility.
func (m *Metrics) AddImprovements(facility string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.improvementsTotal.WithLabelValues(facility).Add(float64(n))
}

// IncFailures increments the failure counter for the given facility/kind.
func (m *Metrics) IncFailures(facility string, kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(facility, kind).Inc()
}

// IncDeliveries increments the delivery counter for result ("success" or "failure").
func (m *Metrics) IncDeliveries(result string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(result).Inc()
}

// IncCyclesSkipped counts a cycle skipped by the execution window.
func (m *Metrics) IncCyclesSkipped() {
	if m == nil {
		return
	}
	m.cyclesSkippedTotal.Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
