// Package telemetry provides observability instrumentation for configscope.
//
// The telemetry package combines structured logging (zerolog), distributed
// tracing (OpenTelemetry) and metrics (Prometheus) for monitoring config
// evaluations.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//	cfg.Metrics.ListenAddress = ":9090"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//	tel.StartMetricsServer()
//
// # Wiring into evaluation
//
// The chain evaluator takes the pieces directly:
//
//	eval := scope.NewChainEvaluator(
//	    scope.WithChainLogger(tel.Logger.NewComponentLogger("chain").Zerolog()),
//	    scope.WithTracer(tel.Tracer.Tracer()),
//	    scope.WithObserver(tel.Metrics),
//	)
//
// Each chain produces a "scope.chain" span with one "scope.entry" child per
// entry. Metrics count evaluated entries by status and the keys each summary
// reports (added, modified, typechange, fallback_write).
//
// # Tracing exporters
//
//   - otlp: OTLP over gRPC to Tracing.Endpoint
//   - stdout: pretty-printed spans, useful while developing
//   - none: spans are created but not exported
//
// When tracing is disabled a no-op tracer is used.
package telemetry
