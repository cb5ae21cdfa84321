package resolution

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/settle/internal/correlate"
)

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics holds Prometheus metrics for resolve runs.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	TicketsFetched  prometheus.Histogram
	TicketsSkipped  *prometheus.CounterVec
	PairsTotal      *prometheus.CounterVec
	ClosuresTotal   *prometheus.CounterVec
	NotifyTotal     *prometheus.CounterVec
	PublishTotal    *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns resolution metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_runs_total",
			Help: "Total runs by mode and final status.",
		}, []string{"mode", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_run_duration_seconds",
			Help:    "Duration of runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~102s
		}, []string{"mode"}),
		TicketsFetched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settle_tickets_fetched",
			Help:    "Tickets fetched per run.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10 .. ~5120
		}),
		TicketsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_tickets_skipped_total",
			Help: "Tickets skipped during pairing because of missing or invalid fields.",
		}, []string{"side"}),
		PairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_pairs_total",
			Help: "Matched pairs by disposition and winning rule.",
		}, []string{"disposition", "rule"}),
		ClosuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_closures_total",
			Help: "Remote ticket closures by outcome.",
		}, []string{"outcome"}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_notifications_total",
			Help: "Manual review notifications by outcome.",
		}, []string{"outcome"}),
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_events_published_total",
			Help: "Run events published by outcome.",
		}, []string{"outcome"}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "outcome"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.TicketsFetched,
		m.TicketsSkipped,
		m.PairsTotal,
		m.ClosuresTotal,
		m.NotifyTotal,
		m.PublishTotal,
		m.DBQueryDuration,
	)

	return m
}

// EngineHooks returns correlate hooks that increment the pairing metrics.
func (m *Metrics) EngineHooks() correlate.Hooks {
	return correlate.Hooks{
		OnMatch: func(rule string, d correlate.Disposition) {
			m.PairsTotal.WithLabelValues(string(d), rule).Inc()
		},
		OnSkip: func(side string) {
			m.TicketsSkipped.WithLabelValues(side).Inc()
		},
	}
}

// Hooks returns service hooks that increment the run metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnFetch: func(n int) {
			m.TicketsFetched.Observe(float64(n))
		},
		OnClose: func(outcome string) {
			m.ClosuresTotal.WithLabelValues(outcome).Inc()
		},
		OnNotify: func(outcome string) {
			m.NotifyTotal.WithLabelValues(outcome).Inc()
		},
		OnPublish: func(outcome string) {
			m.PublishTotal.WithLabelValues(outcome).Inc()
		},
		OnComplete: func(run *Run) {
			m.RunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
			m.RunDuration.WithLabelValues(string(run.Mode)).Observe(run.Duration)
		},
	}
}
