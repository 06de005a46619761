// Package security provides the security plumbing for the auth bridge:
// audit logging with PII hashing, rate limiting, security headers, request
// IDs, token encryption at rest, and token expiry helpers.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User handles
// are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Handle    string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"handle_hash", hashForLogging(event.Handle),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginCompleted logs a completed provider login and account link
func (a *Auditor) LogLoginCompleted(handle, ipAddress string, sessionIssued bool) {
	a.LogEvent(Event{
		Type:      EventLoginCompleted,
		Handle:    handle,
		IPAddress: ipAddress,
		Details: map[string]any{
			"session_issued": sessionIssued,
		},
	})
}

// LogTokenRefreshed logs a provider token refresh
func (a *Auditor) LogTokenRefreshed(handle, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		Handle:    handle,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs a provider token revocation
func (a *Auditor) LogTokenRevoked(handle, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		Handle:    handle,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(handle, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Handle:    handle,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogLinkingDegraded logs a login that succeeded at the provider but could
// not obtain an application session token
func (a *Auditor) LogLinkingDegraded(handle, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventLinkingDegraded,
		Handle:    handle,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCsrfStateAbsent logs an exchange request that arrived without a CSRF
// state value. Tolerated, but worth watching.
func (a *Auditor) LogCsrfStateAbsent(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventCsrfStateAbsent,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// LogCodeReplay logs a replayed authorization code rejected by the exchange
// endpoint without a provider call
func (a *Auditor) LogCodeReplay(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventCodeReplayDetected,
		IPAddress: ipAddress,
	})
}

// hashForLogging produces a short stable hash of an identifier so events can
// be correlated without logging the identifier itself
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(value))
	return hex.EncodeToString(hash[:8])
}
