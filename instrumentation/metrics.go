package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the auth bridge
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Auth flow
	LoginsStarted      metric.Int64Counter
	CallbacksProcessed metric.Int64Counter
	CodesExchanged     metric.Int64Counter
	TokensRefreshed    metric.Int64Counter
	RefreshSkipped     metric.Int64Counter
	TokensRevoked      metric.Int64Counter
	LinkingFallbacks   metric.Int64Counter

	// Security
	CsrfMismatches    metric.Int64Counter
	CodeReplays       metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Provider
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	flowMeter := inst.Meter("flow")
	securityMeter := inst.Meter("security")
	providerMeter := inst.Meter("provider")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"auth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"auth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.LoginsStarted, err = flowMeter.Int64Counter(
		"auth.logins.started",
		metric.WithDescription("Number of login flows initiated"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logins.started counter: %w", err)
	}

	m.CallbacksProcessed, err = flowMeter.Int64Counter(
		"auth.callbacks.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callbacks.processed counter: %w", err)
	}

	m.CodesExchanged, err = flowMeter.Int64Counter(
		"auth.codes.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.exchanged counter: %w", err)
	}

	m.TokensRefreshed, err = flowMeter.Int64Counter(
		"auth.tokens.refreshed",
		metric.WithDescription("Number of provider token refreshes attempted"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.RefreshSkipped, err = flowMeter.Int64Counter(
		"auth.tokens.refresh_skipped",
		metric.WithDescription("Number of refresh triggers skipped because one was already in flight"),
		metric.WithUnit("{skip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refresh_skipped counter: %w", err)
	}

	m.TokensRevoked, err = flowMeter.Int64Counter(
		"auth.tokens.revoked",
		metric.WithDescription("Number of provider tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.revoked counter: %w", err)
	}

	m.LinkingFallbacks, err = flowMeter.Int64Counter(
		"auth.linking.fallbacks",
		metric.WithDescription("Number of account-create conflicts resolved by fallback lookup"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create linking.fallbacks counter: %w", err)
	}

	m.CsrfMismatches, err = securityMeter.Int64Counter(
		"auth.csrf.mismatches",
		metric.WithDescription("Number of callback state values that failed the CSRF check"),
		metric.WithUnit("{mismatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf.mismatches counter: %w", err)
	}

	m.CodeReplays, err = securityMeter.Int64Counter(
		"auth.code.replays",
		metric.WithDescription("Number of replayed authorization codes rejected"),
		metric.WithUnit("{replay}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.replays counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"auth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"auth.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.ProviderAPICallsTotal, err = providerMeter.Int64Counter(
		"provider.api.calls.total",
		metric.WithDescription("Total number of provider API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.calls.total counter: %w", err)
	}

	m.ProviderAPIDuration, err = providerMeter.Float64Histogram(
		"provider.api.duration",
		metric.WithDescription("Provider API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.ProviderAPIErrors, err = providerMeter.Int64Counter(
		"provider.api.errors.total",
		metric.WithDescription("Total number of provider API errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.errors.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordLoginStarted records a login flow initiation
func (m *Metrics) RecordLoginStarted(ctx context.Context, provider string) {
	m.LoginsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordCallbackProcessed records a callback completion
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, success bool) {
	m.CallbacksProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, provider string) {
	m.CodesExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordTokenRefresh records a token refresh attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordRefreshSkipped records a refresh trigger dropped by the in-flight guard
func (m *Metrics) RecordRefreshSkipped(ctx context.Context) {
	m.RefreshSkipped.Add(ctx, 1)
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, provider string) {
	m.TokensRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordLinkingFallback records a create conflict resolved by a second lookup
func (m *Metrics) RecordLinkingFallback(ctx context.Context) {
	m.LinkingFallbacks.Add(ctx, 1)
}

// RecordCsrfMismatch records a failed callback state comparison
func (m *Metrics) RecordCsrfMismatch(ctx context.Context) {
	m.CsrfMismatches.Add(ctx, 1)
}

// RecordCodeReplay records a rejected authorization code replay
func (m *Metrics) RecordCodeReplay(ctx context.Context) {
	m.CodeReplays.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordProviderAPICall records a provider API call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	}

	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))

	if err != nil {
		errorType := "unknown"
		if statusCode >= 400 && statusCode < 500 {
			errorType = "client_error"
		} else if statusCode >= 500 {
			errorType = "server_error"
		}

		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("error_type", errorType),
		))
	}
}
