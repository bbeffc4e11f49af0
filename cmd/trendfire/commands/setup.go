package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trendfire/trendfire/pkg/config"
	"github.com/trendfire/trendfire/pkg/stores"
	"github.com/trendfire/trendfire/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// environment is what a command needs once the configuration is loaded.
type environment struct {
	ctx   context.Context
	cfg   *config.PipelineConfig
	tel   *telemetry.Telemetry
	store *stores.SQLiteStore
}

func loadConfig(ctx context.Context) (*config.PipelineConfig, error) {
	parser, err := config.NewParser()
	if err != nil {
		return nil, fmt.Errorf("failed to create config parser: %w", err)
	}
	return parser.Load(ctx, configPath, envFile)
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath
}

func newTelemetry(cfg config.TelemetryConfig) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = cfg.LogLevel
	if verbose {
		tc.Logging.Level = "debug"
	}
	tc.Logging.Format = cfg.LogFormat
	tc.Tracing.Enabled = cfg.Tracing != "none"
	tc.Tracing.Exporter = cfg.Tracing
	tc.Tracing.Endpoint = cfg.OTLPEndpoint
	tc.Metrics.ListenAddress = cfg.MetricsAddress
	tc.Metrics.TextfilePath = cfg.MetricsTextfile
	return telemetry.NewTelemetry(tc)
}

// start loads the configuration and brings up telemetry and, when
// withLedger is set, the run ledger. Telemetry events are persisted to the
// ledger.
func start(ctx context.Context, withLedger bool) (*environment, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return startWith(ctx, cfg, withLedger)
}

func startWith(ctx context.Context, cfg *config.PipelineConfig, withLedger bool) (*environment, error) {
	tel, err := newTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	env := &environment{ctx: tel.WithContext(ctx), cfg: cfg, tel: tel}

	if withLedger {
		store, err := stores.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			env.close()
			return nil, fmt.Errorf("failed to open ledger %s: %w", cfg.Ledger.Path, err)
		}
		env.store = store
		recorder := stores.NewEventRecorder(store, tel.Logger.Zerolog())
		tel.Events.Subscribe(recorder.Subscriber(), nil)
	}

	if err := tel.StartMetricsServer(); err != nil {
		env.close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return env, nil
}

// close drains telemetry into the ledger before the ledger is closed.
func (e *environment) close() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), shutdownTimeout)
	defer cancel()

	if err := e.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close ledger")
		}
	}
}

func (e *environment) logger() *telemetry.Logger {
	return e.tel.Logger.NewComponentLogger("cli")
}

// newCLILogger is the global logger tagged for the CLI, for use before
// telemetry is up.
func newCLILogger() zerolog.Logger {
	return log.With().Str("component", "cli").Logger()
}
