package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put actual sensitive values (access tokens, refresh
// tokens, authorization codes, verifiers) in traces or metrics. Only record
// metadata such as token presence, expiry times, and validation results.
const (
	// Auth flow attributes - metadata only
	AttrProvider         = "auth.provider"          // Provider name (non-secret)
	AttrHandle           = "auth.handle"            // Provider handle (non-secret)
	AttrPKCEMethod       = "auth.pkce.method"       // PKCE method used (S256)
	AttrCodeReplay       = "auth.code.replay"       // Whether a code replay was detected (boolean)
	AttrRefreshRotated   = "auth.refresh.rotated"   //nolint:gosec // Whether the refresh token was rotated (boolean)
	AttrLinkingFallback  = "auth.linking.fallback"  // Whether create conflict fell back to lookup (boolean)
	AttrSessionIssued    = "auth.session.issued"    // Whether a session token was issued (boolean)
	AttrExpiresIn        = "auth.expires_in"        // Token expiry duration
	AttrError            = "auth.error"             // Flow error code
	AttrErrorDescription = "auth.error_description" // Error description

	// Provider attributes
	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"
	AttrProviderErrorType = "provider.error_type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common auth flow attributes to a span (nil-safe)
func AddFlowAttributes(span trace.Span, provider, handle string) {
	if provider != "" {
		SetSpanAttributes(span, attribute.String(AttrProvider, provider))
	}
	if handle != "" {
		SetSpanAttributes(span, attribute.String(AttrHandle, handle))
	}
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProvider, providerName),
		attribute.String(AttrProviderOperation, operation),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds security-related attributes to a span (nil-safe)
//
// Client IPs may be PII; callers should check ShouldLogClientIPs() first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
