package authbridge

import (
	"fmt"
	"net/http"
)

// Flow error codes as constants. These are the stable identifiers that cross
// the wire and appear in audit events; don't rename them.
const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeCsrfMismatch    = "csrf_mismatch"
	ErrorCodeSessionExpired  = "session_expired"
	ErrorCodeExchangeFailed  = "exchange_failed"
	ErrorCodeLinkingDegraded = "linking_degraded"
	ErrorCodeRefreshFailed   = "refresh_failed"
	ErrorCodeNetworkTimeout  = "network_timeout"
	ErrorCodeRateLimited     = "rate_limit_exceeded"
	ErrorCodeServerError     = "server_error"
)

// FlowError represents an auth-flow error response
type FlowError struct {
	Code        string // stable flow error code (e.g., "csrf_mismatch", "exchange_failed")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewFlowError creates a new flow error
func NewFlowError(code, description string, status int) *FlowError {
	return &FlowError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common flow errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrCsrfMismatch indicates the returned state did not match the stored state
	ErrCsrfMismatch = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeCsrfMismatch, desc, http.StatusBadRequest)
	}

	// ErrSessionExpired indicates the login flow has no usable stored state,
	// typically a replayed or stale callback
	ErrSessionExpired = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeSessionExpired, desc, http.StatusUnauthorized)
	}

	// ErrExchangeFailed indicates the provider rejected the code exchange
	ErrExchangeFailed = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeExchangeFailed, desc, http.StatusBadGateway)
	}

	// ErrLinkingDegraded indicates provider tokens were obtained but the
	// account link could not be completed
	ErrLinkingDegraded = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeLinkingDegraded, desc, http.StatusBadGateway)
	}

	// ErrRefreshFailed indicates the provider rejected the token refresh
	ErrRefreshFailed = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeRefreshFailed, desc, http.StatusBadGateway)
	}

	// ErrNetworkTimeout indicates the upstream did not answer in time
	ErrNetworkTimeout = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeNetworkTimeout, desc, http.StatusGatewayTimeout)
	}

	// ErrRateLimited indicates the caller exceeded the request rate
	ErrRateLimited = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeRateLimited, desc, http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *FlowError {
		return NewFlowError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
