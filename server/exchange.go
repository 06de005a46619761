package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/questline/authbridge/internal/util"
	"github.com/questline/authbridge/providers"
)

// Sentinel errors for flow outcomes. The HTTP layer maps these onto the wire
// error taxonomy.
var (
	// ErrInvalidInput indicates a malformed exchange request
	ErrInvalidInput = errors.New("invalid exchange input")

	// ErrCodeReplayed indicates the authorization code was already consumed
	ErrCodeReplayed = errors.New("authorization code already consumed")

	// ErrExchangeRejected indicates the provider refused the code exchange
	ErrExchangeRejected = errors.New("provider rejected code exchange")

	// ErrRefreshRejected indicates the provider refused the token refresh
	ErrRefreshRejected = errors.New("provider rejected token refresh")

	// ErrUpstreamTimeout indicates the provider or account service did not
	// answer in time
	ErrUpstreamTimeout = errors.New("upstream request timed out")
)

// ExchangeInput carries one exchange request through the flow.
type ExchangeInput struct {
	Code         string
	Verifier     string
	State        string
	ReferralCode string

	// ClientIP is used only for audit events
	ClientIP string
}

// ExchangeResult is a completed exchange. SessionToken is empty and
// LinkingDegraded true when provider tokens were obtained but the account
// service could not issue a session.
type ExchangeResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	Profile *providers.Profile

	SessionToken    string
	LinkingDegraded bool
}

// RefreshResult is a completed token refresh.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Exchange runs the full server-side login flow: code exchange, profile
// fetch, account linking. Linking failures degrade the result instead of
// failing it; the provider tokens are already spent at that point and the
// caller should still receive them.
func (s *Server) Exchange(ctx context.Context, in ExchangeInput) (*ExchangeResult, error) {
	if in.Code == "" || in.Verifier == "" {
		return nil, fmt.Errorf("%w: code and verifier are required", ErrInvalidInput)
	}
	if in.State == "" {
		if s.Config.RequireState {
			return nil, fmt.Errorf("%w: state is required", ErrInvalidInput)
		}
		// Tolerated: the client runtime forwards an empty state when its
		// stored copy was lost. Keep the anomaly visible.
		if s.Auditor != nil {
			s.Auditor.LogCsrfStateAbsent(in.ClientIP)
		}
	}

	if s.replayGuard.Has(in.Code) {
		if s.Auditor != nil {
			s.Auditor.LogCodeReplay(in.ClientIP)
		}
		if m := s.metrics(); m != nil {
			m.RecordCodeReplay(ctx)
		}
		return nil, ErrCodeReplayed
	}
	// Mark before the provider call: a concurrent replay must lose even
	// while the first exchange is in flight.
	s.replayGuard.Set(in.Code, time.Now(), ttlcache.DefaultTTL)

	exchangeCtx, cancel := context.WithTimeout(ctx, s.Config.ExchangeTimeout)
	defer cancel()

	start := time.Now()
	token, err := s.provider.ExchangeCode(exchangeCtx, in.Code, in.Verifier)
	if m := s.metrics(); m != nil {
		m.RecordProviderAPICall(ctx, s.provider.Name(), "exchange_code", statusFromErr(err), msSince(start), err)
	}
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", in.ClientIP, "code_exchange_failed")
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExchangeRejected, err)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, s.provider.Name())
	}

	profileCtx, cancel := context.WithTimeout(ctx, s.Config.ProfileTimeout)
	defer cancel()

	start = time.Now()
	profile, err := s.provider.FetchProfile(profileCtx, token.AccessToken)
	if m := s.metrics(); m != nil {
		m.RecordProviderAPICall(ctx, s.provider.Name(), "fetch_profile", statusFromErr(err), msSince(start), err)
	}
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", in.ClientIP, "profile_fetch_failed")
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: fetching profile: %v", ErrExchangeRejected, err)
	}

	result := &ExchangeResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Profile:      profile,
	}

	sessionToken, degraded := s.linkAccount(ctx, profile, in.ReferralCode, in.ClientIP)
	result.SessionToken = sessionToken
	result.LinkingDegraded = degraded

	if s.Auditor != nil {
		s.Auditor.LogLoginCompleted(profile.Handle, in.ClientIP, sessionToken != "")
	}
	return result, nil
}

// linkAccount resolves the provider identity to an application session token:
// lookup, create on miss, and a second lookup when the create collides with a
// concurrent one. Profile updates on existing accounts are best effort.
// Returns ("", true) when every path failed.
func (s *Server) linkAccount(ctx context.Context, profile *providers.Profile, referralCode, clientIP string) (string, bool) {
	linkCtx, cancel := context.WithTimeout(ctx, s.Config.LinkingTimeout)
	defer cancel()

	token, found, err := s.accounts.Lookup(linkCtx, profile.Handle)
	if err != nil {
		s.Logger.Warn("account lookup failed",
			"handle", profile.Handle,
			"error", err)
	}
	if found {
		s.updateAccount(ctx, token, profile)
		return token, false
	}

	createCtx, cancel := context.WithTimeout(ctx, s.Config.LinkingTimeout)
	defer cancel()

	token, createErr := s.accounts.Create(createCtx, profile, referralCode)
	if createErr == nil && token != "" {
		return token, false
	}
	if createErr != nil {
		s.Logger.Warn("account create failed, retrying lookup",
			"handle", profile.Handle,
			"error", createErr)
	}

	// The create may have lost a race against a concurrent login that
	// provisioned the same handle; a second lookup recovers that case.
	fallbackCtx, cancel := context.WithTimeout(ctx, s.Config.LinkingTimeout)
	defer cancel()

	token, found, err = s.accounts.Lookup(fallbackCtx, profile.Handle)
	if err == nil && found {
		if m := s.metrics(); m != nil {
			m.RecordLinkingFallback(ctx)
		}
		s.updateAccount(ctx, token, profile)
		return token, false
	}

	if s.Auditor != nil {
		s.Auditor.LogLinkingDegraded(profile.Handle, clientIP, "create_and_fallback_lookup_failed")
	}
	s.Logger.Error("account linking degraded, issuing tokens without session",
		"handle", profile.Handle)
	return "", true
}

// updateAccount pushes the freshly fetched profile onto the account record.
// Failures are logged and swallowed.
func (s *Server) updateAccount(ctx context.Context, sessionToken string, profile *providers.Profile) {
	updateCtx, cancel := context.WithTimeout(ctx, s.Config.LinkingTimeout)
	defer cancel()

	if err := s.accounts.Update(updateCtx, sessionToken, profile); err != nil {
		s.Logger.Warn("account profile update failed",
			"handle", profile.Handle,
			"error", err)
	}
}

// Refresh exchanges a refresh token for a fresh provider token set.
func (s *Server) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrInvalidInput)
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.Config.ExchangeTimeout)
	defer cancel()

	start := time.Now()
	token, err := s.provider.RefreshToken(refreshCtx, refreshToken)
	if m := s.metrics(); m != nil {
		m.RecordProviderAPICall(ctx, s.provider.Name(), "refresh_token", statusFromErr(err), msSince(start), err)
		m.RecordTokenRefresh(ctx, err == nil)
	}
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", "", "token_refresh_failed")
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed("", "", token.RefreshToken != refreshToken)
	}
	return &RefreshResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// Revoke revokes a provider token, best effort. The token type hint is
// accepted for wire compatibility but X figures the type out itself.
func (s *Server) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}

	revokeCtx, cancel := context.WithTimeout(ctx, s.Config.ExchangeTimeout)
	defer cancel()

	start := time.Now()
	err := s.provider.RevokeToken(revokeCtx, token)
	if m := s.metrics(); m != nil {
		m.RecordProviderAPICall(ctx, s.provider.Name(), "revoke_token", statusFromErr(err), msSince(start), err)
	}
	if err != nil {
		s.Logger.Warn("token revocation failed",
			"token_prefix", util.SafeTruncate(token, 8),
			"error", err)
		return err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked("", "")
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, s.provider.Name())
	}
	return nil
}

// HealthCheck verifies the provider is reachable.
func (s *Server) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, s.Config.ProfileTimeout)
	defer cancel()

	if err := s.provider.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("provider health check: %w", err)
	}

	// The account service is optional for health: a degraded service still
	// allows logins without sessions.
	type healthChecker interface {
		HealthCheck(context.Context) error
	}
	if hc, ok := s.accounts.(healthChecker); ok {
		if err := hc.HealthCheck(checkCtx); err != nil {
			s.Logger.Warn("account service health check failed", "error", err)
		}
	}
	return nil
}

// isTimeout reports whether an upstream error was a timeout rather than a
// rejection.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusFromErr(err error) int {
	if err == nil {
		return 200
	}
	if isTimeout(err) {
		return 504
	}
	return 502
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
