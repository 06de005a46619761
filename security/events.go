package security

// Event type constants for security audit logging. Using constants keeps the
// event stream greppable and prevents typos at call sites.
const (
	// Login / exchange events

	// EventLoginCompleted is logged when a provider login completes and the
	// identity has been linked to an application account
	EventLoginCompleted = "login_completed"

	// EventExchangeFailed is logged when the provider rejects the
	// code/verifier pair or the identity fetch fails
	EventExchangeFailed = "exchange_failed"

	// EventCodeReplayDetected is logged when an already-consumed
	// authorization code is presented again
	EventCodeReplayDetected = "code_replay_detected"

	// EventLinkingDegraded is logged when provider authentication succeeded
	// but no application session token could be obtained
	EventLinkingDegraded = "linking_degraded"

	// Token lifecycle events

	// EventTokenRefreshed is logged when a provider token is refreshed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a provider token is revoked
	EventTokenRevoked = "token_revoked"

	// Client-side flow events

	// EventCsrfMismatch is logged when the returned state disagrees with the
	// stored CSRF state; treated as a potential attack
	EventCsrfMismatch = "csrf_mismatch"

	// EventCsrfStateAbsent is logged when a callback arrives with no stored
	// CSRF state at all and the flow proceeds on the verifier alone. This is
	// a deliberate usability trade-off that must stay observable.
	EventCsrfStateAbsent = "csrf_state_absent"

	// EventSessionExpired is logged when a callback arrives but the
	// flow-scoped verifier is gone
	EventSessionExpired = "session_expired"

	// Generic security events

	// EventAuthFailure is logged when authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
