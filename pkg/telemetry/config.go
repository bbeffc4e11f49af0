package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config selects how a run reports itself: log lines, spans, Prometheus
// metrics and the event stream recorded in the ledger.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

type LoggingConfig struct {
	// Level is a zerolog level name.
	Level string
	// Format is "console" or "json".
	Format string
	// Output is "stderr", "stdout" or a file path.
	Output       string
	EnableCaller bool
	// TimeFormat is "rfc3339", "unix" or "unixms".
	TimeFormat string
}

type TracingConfig struct {
	Enabled bool
	// Exporter is "otlp", "stdout" or "none".
	Exporter      string
	Endpoint      string
	SamplingRate  float64
	ExportTimeout time.Duration
	Headers       map[string]string
	Insecure      bool
}

type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path while the run lasts. Empty disables the
	// HTTP endpoint.
	ListenAddress string
	Path          string
	Namespace     string

	// TextfilePath, when set, receives all metrics in the text exposition
	// format at shutdown, for the node_exporter textfile collector.
	TextfilePath string

	// DefaultHistogramBuckets are latency buckets in seconds. Export
	// submissions to Earth Engine routinely take tens of seconds.
	DefaultHistogramBuckets []float64
}

type EventsConfig struct {
	Enabled bool
	// EnableAsync delivers events from a background goroutine through a
	// buffer of BufferSize events.
	EnableAsync bool
	BufferSize  int
}

// DefaultConfig logs at info to stderr, keeps metrics in memory and
// delivers events asynchronously. Tracing is off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "trendfire",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "stdout",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       map[string]string{},
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			Path:                    "/metrics",
			Namespace:               "trendfire",
			DefaultHistogramBuckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		Events: EventsConfig{
			Enabled:     true,
			EnableAsync: true,
			BufferSize:  256,
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				errs = append(errs, errors.New("otlp exporter requires an endpoint"))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter: %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be within [0, 1], got %g", c.Tracing.SamplingRate))
	}

	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
