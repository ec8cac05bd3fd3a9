// Package tracing provides the process-wide OpenTelemetry tracer used by
// C7's per-dispatch spans and C8's per-turn spans. Exporters are
// deliberately left unconfigured — persistence/exporters are an external
// concern (§1) — so by default every span is a no-op.
package tracing

import (
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentrt"

var (
	initOnce sync.Once
	provider trace.TracerProvider
)

// Provider returns the process-wide TracerProvider, defaulting to a bare
// go.opentelemetry.io/otel/sdk/trace.TracerProvider with no span processors
// registered (so Start/End calls succeed but nothing is exported). A caller
// that wants real export can call SetProvider before first use.
func Provider() trace.TracerProvider {
	initOnce.Do(func() {
		if provider == nil {
			provider = sdktrace.NewTracerProvider()
		}
	})
	return provider
}

// SetProvider overrides the process-wide TracerProvider. Must be called
// before the first Tracer() call to take effect.
func SetProvider(p trace.TracerProvider) {
	provider = p
}

// Tracer returns the runtime's named tracer.
func Tracer() trace.Tracer {
	return Provider().Tracer(tracerName)
}
