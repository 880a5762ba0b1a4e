// Package instrumentation provides OpenTelemetry metrics and traces for the
// session library.
//
// Instrumentation is off by default. When disabled, no-op providers are used
// and recording has no measurable cost. When enabled, the application passes
// its own MeterProvider and TracerProvider (for example sdk providers wired to
// an OTLP exporter) and registers their shutdown functions:
//
//	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:   "team-api",
//		Enabled:       true,
//		MeterProvider: mp,
//		ShutdownFuncs: []func(context.Context) error{mp.Shutdown},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	store := memory.New()
//	store.SetInstrumentation(inst)
//
// # Available Metrics
//
// Storage:
//   - storage.operation.total{storage.type, storage.operation, storage.result}
//   - storage.operation.duration{storage.type, storage.operation} in milliseconds
//   - storage.keys{storage.type} observed through RegisterStorageSizeCallback
//
// Tokens:
//   - session.token.blacklisted
//   - session.refresh_token.issued
//   - session.refresh_token.revoked{session.revocation.scope}
//   - session.access_token.issued{session.token.reason}
//
// Security:
//   - session.rate_limit.checked{security.rate_limiter.name, security.rate_limiter.allowed}
//   - session.rate_limit.exceeded{security.rate_limiter.name}
//   - session.audit.events.total{security.audit.event_type}
//
// Client:
//   - session.client.transitions{session.state.from, session.state.to}
//   - session.client.api.calls.total{auth_api.endpoint, auth_api.status, auth_api.result}
//   - session.client.api.duration{auth_api.endpoint} in milliseconds
//
// # Security
//
// Token values (access, refresh and CSRF tokens) are never recorded as span or
// metric attributes. Storage spans record the key only for namespaces that do
// not embed a token, such as rate limit counters.
package instrumentation
