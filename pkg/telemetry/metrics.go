package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors of a run. A disabled Metrics has
// a nil registry and every Record method is a no-op.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec

	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	remoteErrors   *prometheus.CounterVec

	exportsSubmitted *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec
}

// NewMetrics registers the run collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m.runsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "runs_started_total",
		Help:      "Pipeline runs started.",
	})
	m.runsCompleted = counter("runs_completed_total", "Pipeline runs finished, by status.", "status")
	m.runDuration = histogram("run_duration_seconds", "Wall time of pipeline runs.", "status")
	m.stageDuration = histogram("stage_duration_seconds", "Wall time of pipeline stages.", "stage", "status")
	m.remoteCalls = counter("remote_calls_total", "Calls to remote services.", "service", "operation")
	m.remoteDuration = histogram("remote_call_duration_seconds", "Latency of remote service calls.", "service", "operation")
	m.remoteErrors = counter("remote_errors_total", "Failed calls to remote services.", "service", "operation")
	m.exportsSubmitted = counter("exports_submitted_total", "Export tasks acknowledged by Earth Engine.", "product", "destination")
	m.policyViolations = counter("policy_violations_total", "Export policy violations.", "policy", "severity")
	m.errorsByClass = counter("errors_by_class_total", "Failed runs, by error class.", "class")

	m.registry = prometheus.NewRegistry()
	if err := registerAll(m.registry,
		m.runsStarted, m.runsCompleted, m.runDuration, m.stageDuration,
		m.remoteCalls, m.remoteDuration, m.remoteErrors,
		m.exportsSubmitted, m.policyViolations, m.errorsByClass,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) enabled() bool { return m.registry != nil }

func (m *Metrics) RecordRunStarted() {
	if m.enabled() {
		m.runsStarted.Inc()
	}
}

func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.enabled() {
		m.runsCompleted.WithLabelValues(status).Inc()
		m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	if m.enabled() {
		m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordRemoteCall(service, operation string, duration time.Duration) {
	if m.enabled() {
		m.remoteCalls.WithLabelValues(service, operation).Inc()
		m.remoteDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordRemoteError(service, operation string) {
	if m.enabled() {
		m.remoteErrors.WithLabelValues(service, operation).Inc()
	}
}

func (m *Metrics) RecordExportSubmitted(product, destination string) {
	if m.enabled() {
		m.exportsSubmitted.WithLabelValues(product, destination).Inc()
	}
}

func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.enabled() {
		m.policyViolations.WithLabelValues(policy, severity).Inc()
	}
}

// RecordError counts a failed run under its error class.
func (m *Metrics) RecordError(errorClass string) {
	if m.enabled() {
		m.errorsByClass.WithLabelValues(errorClass).Inc()
	}
}

// Gatherer exposes the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// Timer measures wall time from its creation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves Handler at ListenAddress in the background.
// Without an address it does nothing; runs are short, so most deployments
// rely on the textfile instead.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// WriteTextfile writes every metric to TextfilePath, if set.
func (m *Metrics) WriteTextfile() error {
	if !m.enabled() || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}

// Shutdown stops the server, then writes the textfile.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return m.WriteTextfile()
}
