package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/questline/authbridge/pkce"
	"github.com/questline/authbridge/store"
)

// LoginOptions tunes a single login initiation.
type LoginOptions struct {
	// ReturnPath is the in-app path to navigate to after the callback
	// completes. Invalid paths are replaced with the default.
	ReturnPath string
}

// InitiateLogin starts an authorization-code login attempt: it generates a
// fresh PKCE verifier and CSRF state, persists the flow state alongside the
// return path and host environment marker, and returns the provider
// authorization URL to redirect the user to.
//
// Every call generates new secret material, so a second InitiateLogin
// invalidates any callback still pending from the first.
func (m *Manager) InitiateLogin(ctx context.Context, opts LoginOptions) (authURL string, err error) {
	ch := pkce.GenerateChallenge()

	if err := m.store.SetFlowState(ctx, store.FlowState{
		Verifier: ch.Verifier,
		State:    ch.State,
	}); err != nil {
		return "", fmt.Errorf("persisting flow state: %w", err)
	}

	returnPath := sanitizeReturnPath(opts.ReturnPath, m.defaultReturnPath)
	if err := m.store.SetReturnPath(ctx, returnPath); err != nil {
		return "", fmt.Errorf("persisting return path: %w", err)
	}

	// The callback leg may run in a fresh context, so the detected host
	// environment is persisted rather than re-detected.
	env, _ := m.host.Detect(ctx)
	if err := m.store.SetHostEnv(ctx, env); err != nil {
		return "", fmt.Errorf("persisting host environment: %w", err)
	}

	if metrics := m.metrics(); metrics != nil {
		metrics.RecordLoginStarted(ctx, m.provider.Name())
	}
	m.logger.Info("login initiated", "provider", m.provider.Name(), "host_env", env)

	return m.provider.AuthorizationURL(ch.State, ch.CodeChallenge, pkce.MethodS256), nil
}

// sanitizeReturnPath accepts only local absolute paths. Anything carrying a
// scheme, authority, or protocol-relative prefix falls back to def, so a
// crafted login link cannot turn the post-login redirect into an open
// redirect.
func sanitizeReturnPath(path, def string) string {
	if path == "" {
		return def
	}
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return def
	}
	if strings.ContainsAny(path, "\\\r\n") {
		return def
	}
	return path
}
