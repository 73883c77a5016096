package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
	"github.com/Sentinel-Gate/inkgate/internal/domain/validation"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// QuotaSizer reports how many quota keys are tracked.
type QuotaSizer interface {
	Size() int
}

// Metrics holds all Prometheus metrics for inkgate.
// It implements service.CycleObserver.
type Metrics struct {
	CyclesTotal         *prometheus.CounterVec
	RejectionsTotal     *prometheus.CounterVec
	DispatchTotal       *prometheus.CounterVec
	PolicyUpdatesTotal  *prometheus.CounterVec
	QuotaKeys           prometheus.Gauge
	LastCycleTimestamp  prometheus.Gauge
	CycleDuration       prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	quotas QuotaSizer
}

// NewMetrics creates and registers all metrics with the given registry.
// quotas may be nil.
func NewMetrics(reg prometheus.Registerer, quotas QuotaSizer) *Metrics {
	m := &Metrics{
		CyclesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inkgate",
				Name:      "cycles_total",
				Help:      "Decision cycles by outcome",
			},
			[]string{"outcome"},
		),
		RejectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inkgate",
				Name:      "validation_rejections_total",
				Help:      "Picked actions rejected by validation, by reason code",
			},
			[]string{"reason"},
		),
		DispatchTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inkgate",
				Name:      "dispatch_total",
				Help:      "Dispatch attempts by kind and status",
			},
			[]string{"kind", "status"}, // status=ok/error
		),
		PolicyUpdatesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inkgate",
				Name:      "policy_updates_total",
				Help:      "Policy documents whose content changed",
			},
			[]string{"policy"},
		),
		QuotaKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "inkgate",
				Name:      "quota_keys",
				Help:      "Number of tracked quota windows",
			},
		),
		LastCycleTimestamp: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "inkgate",
				Name:      "last_cycle_timestamp_seconds",
				Help:      "Unix time the last decision cycle started",
			},
		),
		CycleDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "inkgate",
				Name:      "cycle_duration_seconds",
				Help:      "Decision cycle duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inkgate",
				Name:      "http_requests_total",
				Help:      "Status API requests",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "inkgate",
				Name:      "http_request_duration_seconds",
				Help:      "Status API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		quotas: quotas,
	}

	// Pre-populate label sets so dashboards see zeros before the first event.
	for _, o := range journal.Outcomes() {
		m.CyclesTotal.WithLabelValues(string(o))
	}
	for _, c := range validation.ReasonCodes() {
		m.RejectionsTotal.WithLabelValues(string(c))
	}
	for _, k := range action.Kinds() {
		m.DispatchTotal.WithLabelValues(string(k), "ok")
		m.DispatchTotal.WithLabelValues(string(k), "error")
	}
	return m
}

// ObserveCycle implements service.CycleObserver.
func (m *Metrics) ObserveCycle(r service.CycleReport) {
	m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	m.LastCycleTimestamp.Set(float64(r.StartedAt.Unix()))
	m.CycleDuration.Observe(r.Duration.Seconds())

	for _, name := range r.PolicyUpdated {
		m.PolicyUpdatesTotal.WithLabelValues(name).Inc()
	}
	if v := r.Validation; v != nil && !v.Accepted {
		m.RejectionsTotal.WithLabelValues(string(v.Code)).Inc()
	}
	if c := r.Decision.Candidate; c != nil {
		switch r.Outcome {
		case journal.OutcomeDispatched:
			m.DispatchTotal.WithLabelValues(string(c.Kind), "ok").Inc()
		case journal.OutcomeDispatchFailed:
			m.DispatchTotal.WithLabelValues(string(c.Kind), "error").Inc()
		}
	}
	if m.quotas != nil {
		m.QuotaKeys.Set(float64(m.quotas.Size()))
	}
}

// Compile-time interface verification.
var _ service.CycleObserver = (*Metrics)(nil)
