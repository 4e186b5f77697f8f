// Package tracing provides OpenTelemetry tracing integration.
//
// Init installs the global tracer provider; Middleware traces incoming
// HTTP requests, propagating W3C Trace Context and echoing the trace ID
// in the X-Trace-Id response header so client logs can be correlated.
//
// Example usage:
//
//	import "gamidash/internal/observability/tracing"
//
//	func main() {
//	    shutdown := tracing.Init(context.Background())
//	    defer shutdown(context.Background())
//	}
package tracing
