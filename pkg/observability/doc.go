// Package observability provides OpenTelemetry tracing and metrics for
// hosts embedding the keel engine.
//
// # Setup
//
// Initialize the provider at application startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "keel-engine",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer provider.Shutdown(ctx)
//
// New installs the otel global providers, so the engine's own spans
// (keel.session.process, keel.fork.register, keel.witness.penalize)
// flow to the configured exporter without further wiring.
//
// # Instrumenting host operations
//
// Track an operation end to end, emitting the RED metrics and a span:
//
//	ctx, finish := provider.TrackOperation(ctx, "ingest.batch",
//		observability.SessionOperation(sessionID, "reported", weight, false)...)
//	defer func() { finish(err) }()
//
// Create spans manually:
//
//	ctx, span := provider.StartSpan(ctx, "operation_name")
//	defer span.End()
package observability
