// Package authbridge exposes the HTTP surface of the auth bridge: the wire
// types, the flow error taxonomy, and the Handler that fronts the exchange,
// refresh, and revocation endpoints.
package authbridge

import (
	"time"

	"github.com/questline/authbridge/providers"
)

// ExchangeRequest is the body of POST /auth/exchange.
type ExchangeRequest struct {
	// Code is the authorization code returned by the provider
	Code string `json:"code"`

	// Verifier is the PKCE code verifier generated at login initiation
	Verifier string `json:"verifier"`

	// State is the CSRF state echoed by the provider
	State string `json:"state"`

	// ReferralCode optionally attributes a newly created account
	ReferralCode string `json:"referral_code,omitempty"`
}

// TokenPayload carries provider tokens on the wire. ExpiresAt is epoch
// milliseconds.
type TokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// NewTokenPayload converts an expiry time to the wire representation.
func NewTokenPayload(accessToken, refreshToken string, expiresAt time.Time) TokenPayload {
	return TokenPayload{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.UnixMilli(),
	}
}

// Expiry returns the payload's expiry as a time.Time.
func (p TokenPayload) Expiry() time.Time {
	return time.UnixMilli(p.ExpiresAt)
}

// ExchangeResponse is the body of a successful POST /auth/exchange.
type ExchangeResponse struct {
	Tokens TokenPayload `json:"tokens"`

	// User is the provider identity profile
	User *providers.Profile `json:"user"`

	// DBToken is the application session token, when account linking
	// succeeded. Its absence signals a degraded login.
	DBToken string `json:"db_token,omitempty"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is the body of a successful POST /auth/refresh.
type RefreshResponse struct {
	Tokens TokenPayload `json:"tokens"`
}

// RevokeRequest is the body of POST /auth/revoke.
type RevokeRequest struct {
	Token string `json:"token"`

	// TokenTypeHint is "access_token" or "refresh_token"; empty lets the
	// provider decide
	TokenTypeHint string `json:"token_type_hint,omitempty"`
}

// ErrorResponse is the JSON error body for all endpoints.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
