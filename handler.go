package authbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/questline/authbridge/instrumentation"
	"github.com/questline/authbridge/security"
	"github.com/questline/authbridge/server"
)

// Handler is a thin HTTP adapter for the bridge Server. It handles wire
// encoding, rate limiting, and error mapping; flow logic lives in the server
// package.
type Handler struct {
	server *server.Server
	config *Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, config *Config, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, errors.New("server is required")
	}
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		config: config,
		logger: logger,
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	return h, nil
}

// RegisterRoutes mounts the bridge endpoints on mux, wrapped with request-ID
// propagation.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/auth/exchange", security.RequestIDMiddleware(http.HandlerFunc(h.ServeExchange)))
	mux.Handle("/auth/refresh", security.RequestIDMiddleware(http.HandlerFunc(h.ServeRefresh)))
	mux.Handle("/auth/revoke", security.RequestIDMiddleware(http.HandlerFunc(h.ServeRevoke)))
	mux.HandleFunc("/healthz", h.ServeHealthz)
}

// ServeExchange handles POST /auth/exchange
func (h *Handler) ServeExchange(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.exchange")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("exchange", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP, "exchange") {
		return
	}

	var req ExchangeRequest
	if !h.decodeBody(w, r, &req, "exchange", startTime, span) {
		return
	}

	result, err := h.server.Exchange(ctx, server.ExchangeInput{
		Code:         req.Code,
		Verifier:     req.Verifier,
		State:        req.State,
		ReferralCode: req.ReferralCode,
		ClientIP:     clientIP,
	})
	if err != nil {
		flowErr := mapServerError(err)
		h.logger.Warn("exchange failed",
			"error_code", flowErr.Code,
			"request_id", security.GetRequestID(ctx),
			"error", err)
		h.recordHTTPMetrics("exchange", r.Method, flowErr.Status, startTime)
		h.recordCallbackProcessed(ctx, false)
		instrumentation.RecordError(span, err)
		h.writeFlowError(w, flowErr)
		return
	}

	resp := ExchangeResponse{
		Tokens:  NewTokenPayload(result.AccessToken, result.RefreshToken, result.ExpiresAt),
		User:    result.Profile,
		DBToken: result.SessionToken,
	}

	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrSessionIssued, result.SessionToken != ""),
		attribute.Bool(instrumentation.AttrLinkingFallback, result.LinkingDegraded),
	)
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics("exchange", r.Method, http.StatusOK, startTime)
	h.recordCallbackProcessed(ctx, true)
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeRefresh handles POST /auth/refresh. Possession of the refresh token is
// the credential; no session auth is required.
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.refresh")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("refresh", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP, "refresh") {
		return
	}

	var req RefreshRequest
	if !h.decodeBody(w, r, &req, "refresh", startTime, span) {
		return
	}

	result, err := h.server.Refresh(ctx, req.RefreshToken)
	if err != nil {
		flowErr := mapServerError(err)
		h.logger.Warn("refresh failed",
			"error_code", flowErr.Code,
			"request_id", security.GetRequestID(ctx),
			"error", err)
		h.recordHTTPMetrics("refresh", r.Method, flowErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeFlowError(w, flowErr)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics("refresh", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, RefreshResponse{
		Tokens: NewTokenPayload(result.AccessToken, result.RefreshToken, result.ExpiresAt),
	})
}

// ServeRevoke handles POST /auth/revoke
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP, "revoke") {
		return
	}

	var req RevokeRequest
	if !h.decodeBody(w, r, &req, "revoke", startTime, nil) {
		return
	}

	// Revocation is best effort; a provider failure still returns 200 so
	// clients proceed with their local logout (RFC 7009 semantics).
	if err := h.server.Revoke(ctx, req.Token, req.TokenTypeHint); err != nil {
		if errors.Is(err, server.ErrInvalidInput) {
			flowErr := mapServerError(err)
			h.recordHTTPMetrics("revoke", r.Method, flowErr.Status, startTime)
			h.writeFlowError(w, flowErr)
			return
		}
		h.logger.Warn("revocation failed upstream",
			"request_id", security.GetRequestID(ctx),
			"error", err)
	}

	h.recordHTTPMetrics("revoke", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeHealthz handles GET /healthz
func (h *Handler) ServeHealthz(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.server.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		h.recordHTTPMetrics("healthz", r.Method, http.StatusServiceUnavailable, startTime)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	h.recordHTTPMetrics("healthz", r.Method, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if
// limited and the response was written.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP)
	}

	w.Header().Set("Retry-After", "60")
	h.writeFlowError(w, ErrRateLimited("Rate limit exceeded. Please try again later."))
	return true
}

// decodeBody decodes a JSON request body. Returns false after writing an
// error response when decoding fails.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any, endpoint string, startTime time.Time, span trace.Span) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBody)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "malformed request body")
		h.writeFlowError(w, ErrInvalidRequest("Malformed JSON request body"))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.config.BaseURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeFlowError(w http.ResponseWriter, flowErr *FlowError) {
	security.SetSecurityHeaders(w, h.config.BaseURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(flowErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            flowErr.Code,
		ErrorDescription: flowErr.Description,
	})
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}

func (h *Handler) recordCallbackProcessed(ctx context.Context, success bool) {
	if h.server.Instrumentation == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordCallbackProcessed(ctx, success)
}

// mapServerError maps flow-layer sentinel errors onto the wire taxonomy.
func mapServerError(err error) *FlowError {
	switch {
	case errors.Is(err, server.ErrInvalidInput):
		return ErrInvalidRequest(err.Error())
	case errors.Is(err, server.ErrCodeReplayed):
		// A replayed code means the login session that minted it is spent
		return ErrSessionExpired("Authorization code already used; start a new login")
	case errors.Is(err, server.ErrUpstreamTimeout):
		return ErrNetworkTimeout("Upstream did not respond in time")
	case errors.Is(err, server.ErrExchangeRejected):
		return ErrExchangeFailed("Provider rejected the code exchange")
	case errors.Is(err, server.ErrRefreshRejected):
		return ErrRefreshFailed("Provider rejected the token refresh")
	default:
		return ErrServerError("Internal error")
	}
}
