// Package instrumentation provides OpenTelemetry metrics and traces for the
// token manager and the client registration manager.
//
// Instrumentation is disabled by default and then uses no-op providers. When
// enabled without explicit providers, the global otel providers are used, so
// wiring an exporter is the application's job:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "carl",
//		ServiceVersion: version,
//		Enabled:        true,
//		MeterProvider:  meterProvider,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	manager, err := auth.NewAuthenticationManager(cfg, client, auth.WithInstrumentation(inst))
//
// # Metrics
//
//   - carl.auth.token.cache.hits / carl.auth.token.cache.misses
//   - carl.auth.token.exchanges {purpose, result}
//   - carl.auth.token.exchange.duration (ms) {purpose, result}
//   - carl.auth.client.registrations {mode, result}
//   - carl.auth.client.registration.duration (ms), dynamic registrations only
//   - carl.auth.client.deletions {result}
//
// # Traces
//
// Spans are named after the operation ("auth.GetToken", "auth.RegisterNewClient",
// ...). Attribute keys are defined in this package. Tokens and secrets are never
// attached to spans.
package instrumentation
