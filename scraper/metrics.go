package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry        *prometheus.Registry
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	PagesTotal      *prometheus.CounterVec
	RecordsTotal    prometheus.Counter
	WorkersBusy     prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_attempts_total",
			Help: "Page retrieval attempts by result.",
		},
		[]string{"result"},
	)
	attemptDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_attempt_duration_seconds",
			Help:    "Latency of single page retrieval attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of retry waits entered.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Failed attempts by error type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Pages that reached a terminal outcome.",
		},
		[]string{"outcome"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Records extracted from successful pages.",
		},
	)
	busy := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_workers_busy",
			Help: "Workers currently handling a page.",
		},
	)

	registry.MustRegister(attempts, attemptDuration, retries, errorsTotal, pages, records, busy)

	return &Metrics{
		Registry:        registry,
		AttemptsTotal:   attempts,
		AttemptDuration: attemptDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		PagesTotal:      pages,
		RecordsTotal:    records,
		WorkersBusy:     busy,
	}
}

// IncAttempt counts one retrieval attempt.
func (m *Metrics) IncAttempt(result string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveDuration records an attempt duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObservePage counts a terminal page outcome and its records.
func (m *Metrics) ObservePage(success bool, records int) {
	if m == nil {
		return
	}
	if success {
		m.PagesTotal.WithLabelValues("success").Inc()
		m.RecordsTotal.Add(float64(records))
		return
	}
	m.PagesTotal.WithLabelValues("failure").Inc()
}

func (m *Metrics) workerBusy(delta float64) {
	if m == nil {
		return
	}
	m.WorkersBusy.Add(delta)
}
