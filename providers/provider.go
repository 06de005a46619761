// Package providers defines the interface to the external identity provider
// and the identity profile snapshot it reports. The bridge is written against
// this interface so the concrete provider (X, or a mock in tests) can be
// swapped without touching flow logic.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is the outbound interface to the identity provider. All token
// material flowing through it is the provider's own; the application session
// token never passes through a Provider.
type Provider interface {
	// Name returns the provider name (e.g., "x", "mock")
	Name() string

	// AuthorizationURL builds the URL the user agent is redirected to for
	// authentication. codeChallenge/codeChallengeMethod carry the PKCE
	// challenge; state is the CSRF token echoed back on the callback.
	AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string

	// ExchangeCode exchanges an authorization code for provider tokens.
	// codeVerifier is the PKCE verifier bound to the code.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)

	// RefreshToken obtains a fresh token set using a refresh token.
	// Implementations carry the old refresh token over when the provider
	// does not rotate it, so callers always get a renewable set back.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// FetchProfile retrieves the identity profile for an access token
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// RevokeToken revokes a token at the provider
	RevokeToken(ctx context.Context, token string) error

	// HealthCheck verifies the provider is reachable. Used by readiness
	// probes and startup validation.
	HealthCheck(ctx context.Context) error
}

// Profile is the provider-reported identity snapshot. It is cached by the
// client and safe to go stale; the unique Handle keys the application's
// account record.
type Profile struct {
	// ID is the provider's unique user identifier
	ID string `json:"id"`

	// Handle is the unique public handle (without the leading "@")
	Handle string `json:"handle"`

	// DisplayName is the user-chosen display name
	DisplayName string `json:"display_name"`

	// AvatarURL is the URL of the profile image
	AvatarURL string `json:"avatar_url,omitempty"`

	// Verified reports the provider's verification flag
	Verified bool `json:"verified"`

	// FollowersCount is the follower count at fetch time
	FollowersCount int `json:"followers_count"`

	// FollowingCount is the following count at fetch time
	FollowingCount int `json:"following_count"`
}
