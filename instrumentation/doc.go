// Package instrumentation provides OpenTelemetry metrics and tracing for the
// auth bridge. When disabled it installs no-op providers, so callers never
// need nil checks around recording calls.
package instrumentation
