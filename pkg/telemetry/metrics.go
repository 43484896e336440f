package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for config evaluation. It satisfies
// scope.Observer.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Entry metrics
	entriesEvaluated *prometheus.CounterVec
	entryDuration    *prometheus.HistogramVec
	provenance       *prometheus.CounterVec

	// Check metrics
	policyViolations *prometheus.CounterVec
	schemaFailures   prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of evaluation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of evaluation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		entriesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_evaluated_total",
				Help:      "Total number of config entries evaluated",
			},
			[]string{"entry", "status"},
		),
		entryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "entry_duration_seconds",
				Help:      "Duration of config entry evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"entry"},
		),
		provenance: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entry_keys_total",
				Help:      "Keys reported by config entry summaries, by kind",
			},
			[]string{"entry", "kind"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),
		schemaFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_failures_total",
				Help:      "Total number of configurations rejected by schema validation",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.entriesEvaluated,
		m.entryDuration,
		m.provenance,
		m.policyViolations,
		m.schemaFailures,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the registry metrics are registered with, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordEntry records the evaluation of one config entry.
func (m *Metrics) RecordEntry(entry, status string, duration time.Duration) {
	if m.entriesEvaluated == nil {
		return
	}
	m.entriesEvaluated.WithLabelValues(entry, status).Inc()
	m.entryDuration.WithLabelValues(entry).Observe(duration.Seconds())
}

// RecordProvenance records the key counts of an entry summary.
func (m *Metrics) RecordProvenance(entry string, added, modified, typechanges, fallbackWrites int) {
	if m.provenance == nil {
		return
	}
	m.provenance.WithLabelValues(entry, "added").Add(float64(added))
	m.provenance.WithLabelValues(entry, "modified").Add(float64(modified))
	m.provenance.WithLabelValues(entry, "typechange").Add(float64(typechanges))
	m.provenance.WithLabelValues(entry, "fallback_write").Add(float64(fallbackWrites))
}

// RecordPolicyViolation records one policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// RecordSchemaFailure records a configuration rejected by its schema.
func (m *Metrics) RecordSchemaFailure() {
	if m.schemaFailures == nil {
		return
	}
	m.schemaFailures.Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics in the background when an address is
// configured. The returned server may be shut down by the caller.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return server
}
