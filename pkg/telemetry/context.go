package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains events, flushes spans, stops the metrics server and
// writes the metrics textfile. Every component is shut down even when an
// earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
	)
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// runIDKey carries the current run id.
type runIDKey struct{}

// runStateKey carries the root span and timer of a run.
type runStateKey struct{}

type runState struct {
	span  trace.Span
	timer *Timer
}

// RunID returns the run id stored by WithRunContext, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithRunContext starts the root span of a run, attaches a run-scoped
// logger and publishes the run.started event.
func WithRunContext(ctx context.Context, runID, configPath string) context.Context {
	ctx = context.WithValue(ctx, runIDKey{}, runID)

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return FromContext(ctx).WithRunID(runID).WithContext(ctx)
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID)
	spanCtx = tel.Logger.WithRunID(runID).WithContext(spanCtx)
	spanCtx = context.WithValue(spanCtx, runStateKey{}, &runState{span: span, timer: NewTimer()})

	tel.Metrics.RecordRunStarted()
	if err := tel.Events.PublishRunStarted(runID, configPath); err != nil {
		FromContext(spanCtx).WithError(err).Warn("Failed to publish run event")
	}

	return spanCtx
}

// EndRunContext ends the run span and records the outcome. errClass is
// the error class label used when err is non-nil.
func EndRunContext(ctx context.Context, tasks int, errClass string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	state, _ := ctx.Value(runStateKey{}).(*runState)
	if state == nil {
		return
	}

	if err != nil {
		state.span.SetAttributes(AttrErrorClass.String(errClass))
	}
	endSpan(state.span, err)

	runID := RunID(ctx)
	duration := state.timer.Duration()
	if err != nil {
		tel.Metrics.RecordRunCompleted("failed", duration)
		tel.Metrics.RecordError(errClass)
		_ = tel.Events.PublishRunFailed(runID, errClass, err.Error())
		return
	}
	tel.Metrics.RecordRunCompleted("succeeded", duration)
	_ = tel.Events.PublishRunCompleted(runID, tasks, duration)
}

// StartStage opens a span for one pipeline stage and returns the stage
// context plus a function that closes it with the stage outcome.
func StartStage(ctx context.Context, stage string) (context.Context, func(error)) {
	logger := FromContext(ctx).WithStage(stage)
	timer := NewTimer()

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		ctx = logger.WithContext(ctx)
		return ctx, func(err error) {
			if err != nil {
				logger.WithError(err).Debug("Stage failed")
			}
		}
	}

	spanCtx, span := tel.Tracer.StartStageSpan(ctx, stage)
	logger = logger.WithSpan(spanCtx)
	spanCtx = logger.WithContext(spanCtx)
	runID := RunID(ctx)

	return spanCtx, func(err error) {
		duration := timer.Duration()
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		endSpan(span, err)

		tel.Metrics.RecordStage(stage, status, duration)
		_ = tel.Events.PublishStage(runID, stage, duration, err)
		logger.WithField("duration", duration.String()).Debug("Stage finished")
	}
}

// RecordRemoteCall runs fn inside a client span and records call metrics.
func RecordRemoteCall(ctx context.Context, service, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	if tel == nil {
		return fn()
	}

	_, span := tel.Tracer.StartRemoteSpan(ctx, service, operation)
	timer := NewTimer()
	err := fn()

	tel.Metrics.RecordRemoteCall(service, operation, timer.Duration())
	if err != nil {
		tel.Metrics.RecordRemoteError(service, operation)
	}
	endSpan(span, err)
	return err
}
