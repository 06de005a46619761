package client

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/questline/authbridge"
	"github.com/questline/authbridge/providers"
	"github.com/questline/authbridge/store"
)

// ErrCallbackInFlight is returned when a callback arrives while another one
// is already being verified. The duplicate is dropped; the in-flight exchange
// owns the one-time verifier.
var ErrCallbackInFlight = errors.New("callback already in flight")

// CallbackInput carries the query parameters of an authorization callback.
type CallbackInput struct {
	Code  string
	State string

	// ReferralCode is forwarded to account creation when present
	ReferralCode string
}

// CallbackResult is the outcome of a completed callback.
type CallbackResult struct {
	Profile       *providers.Profile
	SessionIssued bool

	// ReturnPath is where the application should navigate next
	ReturnPath string

	// HostEnv is the environment marker recorded at login initiation
	HostEnv string
}

// HandleCallback drives the authorization callback to completion: it consumes
// the stored flow state, checks the CSRF state, exchanges the code through
// the bridge, and persists tokens, profile, and session. The verifier and
// state are deleted before any network call, so a replayed callback finds
// nothing and fails with a session_expired flow error instead of re-spending
// the code.
//
// Exactly one callback runs at a time; concurrent invocations get
// ErrCallbackInFlight.
func (m *Manager) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	m.mu.Lock()
	if m.status == StatusVerifying {
		m.mu.Unlock()
		return nil, ErrCallbackInFlight
	}
	m.status = StatusVerifying
	m.lastErr = nil
	m.mu.Unlock()
	m.notify(ctx)

	result, err := m.runCallback(ctx, in)
	if err != nil {
		m.setStatus(ctx, StatusError, err)
		return nil, err
	}
	m.setStatus(ctx, StatusSuccess, nil)
	return result, nil
}

func (m *Manager) runCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if in.Code == "" {
		return nil, authbridge.ErrInvalidRequest("authorization code is required")
	}

	// A callback landing while the session is already established is a
	// duplicate of a completed login (back navigation, double-fired
	// redirect handler). Answer success without spending anything.
	if _, err := m.store.SessionToken(ctx); err == nil {
		profile, profileErr := m.store.Profile(ctx)
		if profileErr != nil && profileErr != store.ErrNotFound {
			m.logger.Warn("reading cached profile failed", "error", profileErr)
		}
		returnPath, hostEnv := m.navigationTarget(ctx)
		m.logger.Info("callback ignored, session already established")
		return &CallbackResult{
			Profile:       profile,
			SessionIssued: true,
			ReturnPath:    returnPath,
			HostEnv:       hostEnv,
		}, nil
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("reading session token: %w", err)
	}

	// Consuming deletes the verifier and state atomically from the caller's
	// point of view; from here on this login attempt cannot be retried.
	fs, err := m.store.ConsumeFlowState(ctx)
	if err == store.ErrNotFound {
		return nil, authbridge.ErrSessionExpired("no pending login attempt; the callback may have been replayed")
	}
	if err != nil {
		return nil, fmt.Errorf("consuming flow state: %w", err)
	}

	if fs.State == "" {
		// Tolerated: some provider redirects drop the state parameter. The
		// verifier still binds the exchange to this attempt.
		m.logger.Warn("callback arrived without stored CSRF state")
	} else if subtle.ConstantTimeCompare([]byte(fs.State), []byte(in.State)) != 1 {
		if metrics := m.metrics(); metrics != nil {
			metrics.RecordCsrfMismatch(ctx)
		}
		return nil, authbridge.ErrCsrfMismatch("state parameter does not match the stored login state")
	}

	resp, err := m.bridge.Exchange(ctx, authbridge.ExchangeRequest{
		Code:         in.Code,
		Verifier:     fs.Verifier,
		State:        in.State,
		ReferralCode: in.ReferralCode,
	})
	if err != nil {
		if metrics := m.metrics(); metrics != nil {
			metrics.RecordCallbackProcessed(ctx, false)
		}
		return nil, wrapBridgeErr(err, "code exchange failed")
	}

	if err := m.store.SetProviderTokens(ctx, store.TokenSet{
		AccessToken:  resp.Tokens.AccessToken,
		RefreshToken: resp.Tokens.RefreshToken,
		ExpiresAt:    resp.Tokens.Expiry(),
	}); err != nil {
		return nil, fmt.Errorf("persisting provider tokens: %w", err)
	}
	if resp.User != nil {
		if err := m.store.SetProfile(ctx, resp.User); err != nil {
			return nil, fmt.Errorf("persisting profile: %w", err)
		}
	}
	// The session token is only issued when account linking succeeded; its
	// absence leaves any existing session alone.
	sessionIssued := resp.DBToken != ""
	if sessionIssued {
		if err := m.store.SetSessionToken(ctx, resp.DBToken); err != nil {
			return nil, fmt.Errorf("persisting session token: %w", err)
		}
	} else {
		m.logger.Warn("exchange completed without a session token; account linking is degraded")
	}

	returnPath, hostEnv := m.navigationTarget(ctx)

	if metrics := m.metrics(); metrics != nil {
		metrics.RecordCallbackProcessed(ctx, true)
	}
	m.logger.Info("callback completed",
		"session_issued", sessionIssued,
		"return_path", returnPath,
	)

	return &CallbackResult{
		Profile:       resp.User,
		SessionIssued: sessionIssued,
		ReturnPath:    returnPath,
		HostEnv:       hostEnv,
	}, nil
}

// navigationTarget consumes the stored return path and reads the host
// environment marker, falling back to the defaults when nothing was recorded.
func (m *Manager) navigationTarget(ctx context.Context) (returnPath, hostEnv string) {
	returnPath, err := m.store.ConsumeReturnPath(ctx)
	if err != nil {
		m.logger.Warn("reading return path failed", "error", err)
	}
	if returnPath == "" {
		returnPath = m.defaultReturnPath
	}

	hostEnv, err = m.store.HostEnv(ctx)
	if err != nil {
		m.logger.Warn("reading host environment failed", "error", err)
	}
	if hostEnv == "" {
		hostEnv = HostEnvStandalone
	}
	return returnPath, hostEnv
}

// wrapBridgeErr maps bridge transport errors into flow errors while passing
// wire flow errors through with their original code.
func wrapBridgeErr(err error, context string) error {
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return authbridge.NewFlowError(bridgeErr.Code, bridgeErr.Description, bridgeErr.Status)
	}
	if errors.Is(err, ErrBridgeTimeout) {
		return authbridge.ErrNetworkTimeout(context + ": bridge did not answer in time")
	}
	return authbridge.ErrExchangeFailed(fmt.Sprintf("%s: %v", context, err))
}
