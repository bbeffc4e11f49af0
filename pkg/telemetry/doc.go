// Package telemetry provides logging, tracing, metrics and run events for
// the trend pipeline.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher.
//
// # Usage
//
// Initialize telemetry at startup and put it on the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Runs and stages
//
// A run is one pipeline invocation. WithRunContext opens its root span and
// EndRunContext records the outcome:
//
//	ctx = telemetry.WithRunContext(ctx, runID, configPath)
//	defer func() { telemetry.EndRunContext(ctx, len(tasks), class, err) }()
//
// Each stage gets a child span, a stage duration sample and an event:
//
//	stageCtx, end := telemetry.StartStage(ctx, "boundary")
//	region, err := boundary.Load(stageCtx, path)
//	end(err)
//
// Remote calls are wrapped with RecordRemoteCall, which counts calls,
// failures and latency per service and operation.
//
// # Metrics
//
// Metrics are served at ListenAddress when one is set and written to
// TextfilePath at shutdown for the node_exporter textfile collector.
//
// # Events
//
// Subscribers see events in publish order; the run ledger subscribes to
// persist them. Shutdown returns after every buffered event is delivered.
package telemetry
