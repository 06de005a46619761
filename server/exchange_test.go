package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/questline/authbridge/accounts"
	"github.com/questline/authbridge/providers"
	providermock "github.com/questline/authbridge/providers/mock"
)

func newTestServer(t *testing.T, provider *providermock.Provider, accountSvc *accounts.Mock) *Server {
	t.Helper()
	if provider == nil {
		provider = providermock.New()
	}
	if accountSvc == nil {
		accountSvc = accounts.NewMock()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(provider, accountSvc, nil, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func validInput() ExchangeInput {
	return ExchangeInput{
		Code:     "code-1",
		Verifier: "verifier-1",
		State:    "state-1",
		ClientIP: "1.2.3.4",
	}
}

func TestNew_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(nil, accounts.NewMock(), nil, logger); err == nil {
		t.Error("New() should fail without a provider")
	}
	if _, err := New(providermock.New(), nil, nil, logger); err == nil {
		t.Error("New() should fail without an account service")
	}
}

func TestExchange_NewAccount(t *testing.T) {
	accountSvc := accounts.NewMock()
	accountSvc.CreateFunc = func(_ context.Context, p *providers.Profile, referral string) (string, error) {
		if referral != "FRIEND42" {
			t.Errorf("referral = %q, want FRIEND42", referral)
		}
		return "session-new", nil
	}

	srv := newTestServer(t, nil, accountSvc)

	in := validInput()
	in.ReferralCode = "FRIEND42"
	result, err := srv.Exchange(context.Background(), in)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if result.AccessToken == "" {
		t.Error("AccessToken should not be empty")
	}
	if result.Profile == nil || result.Profile.Handle == "" {
		t.Error("Profile should be populated")
	}
	if result.SessionToken != "session-new" {
		t.Errorf("SessionToken = %q, want session-new", result.SessionToken)
	}
	if result.LinkingDegraded {
		t.Error("LinkingDegraded = true, want false")
	}
	if got := accountSvc.Calls("Lookup"); got != 1 {
		t.Errorf("Lookup calls = %d, want 1", got)
	}
	if got := accountSvc.Calls("Create"); got != 1 {
		t.Errorf("Create calls = %d, want 1", got)
	}
}

func TestExchange_ExistingAccountUpdatesProfile(t *testing.T) {
	accountSvc := accounts.NewMock()
	accountSvc.LookupFunc = func(context.Context, string) (string, bool, error) {
		return "session-existing", true, nil
	}

	srv := newTestServer(t, nil, accountSvc)

	result, err := srv.Exchange(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if result.SessionToken != "session-existing" {
		t.Errorf("SessionToken = %q, want session-existing", result.SessionToken)
	}
	if got := accountSvc.Calls("Create"); got != 0 {
		t.Errorf("Create calls = %d, want 0 for an existing account", got)
	}
	if got := accountSvc.Calls("Update"); got != 1 {
		t.Errorf("Update calls = %d, want 1", got)
	}
}

func TestExchange_CreateConflictFallsBackToLookup(t *testing.T) {
	// A concurrent login created the account between our lookup and create;
	// the second lookup must recover its token.
	lookups := 0
	accountSvc := accounts.NewMock()
	accountSvc.LookupFunc = func(context.Context, string) (string, bool, error) {
		lookups++
		if lookups == 1 {
			return "", false, nil
		}
		return "session-t1", true, nil
	}
	accountSvc.CreateFunc = func(context.Context, *providers.Profile, string) (string, error) {
		return "", fmt.Errorf("handle already registered")
	}

	srv := newTestServer(t, nil, accountSvc)

	result, err := srv.Exchange(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if result.SessionToken != "session-t1" {
		t.Errorf("SessionToken = %q, want session-t1 from fallback lookup", result.SessionToken)
	}
	if result.LinkingDegraded {
		t.Error("LinkingDegraded = true, want false after successful fallback")
	}
	if lookups != 2 {
		t.Errorf("lookups = %d, want 2", lookups)
	}
}

func TestExchange_LinkingDegradedStillReturnsTokens(t *testing.T) {
	accountSvc := accounts.NewMock()
	accountSvc.LookupFunc = func(context.Context, string) (string, bool, error) {
		return "", false, fmt.Errorf("account service unavailable")
	}
	accountSvc.CreateFunc = func(context.Context, *providers.Profile, string) (string, error) {
		return "", fmt.Errorf("account service unavailable")
	}

	srv := newTestServer(t, nil, accountSvc)

	result, err := srv.Exchange(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Exchange() error = %v, want degraded success", err)
	}
	if !result.LinkingDegraded {
		t.Error("LinkingDegraded = false, want true")
	}
	if result.SessionToken != "" {
		t.Errorf("SessionToken = %q, want empty", result.SessionToken)
	}
	if result.AccessToken == "" {
		t.Error("AccessToken should still be returned on degraded linking")
	}
}

func TestExchange_ReplayedCodeRejectedWithoutProviderCall(t *testing.T) {
	provider := providermock.New()
	srv := newTestServer(t, provider, nil)

	if _, err := srv.Exchange(context.Background(), validInput()); err != nil {
		t.Fatalf("first Exchange() error = %v", err)
	}
	exchanges := provider.Calls("ExchangeCode")

	_, err := srv.Exchange(context.Background(), validInput())
	if !errors.Is(err, ErrCodeReplayed) {
		t.Fatalf("second Exchange() error = %v, want ErrCodeReplayed", err)
	}
	if got := provider.Calls("ExchangeCode"); got != exchanges {
		t.Errorf("ExchangeCode calls = %d, want %d (no provider call on replay)", got, exchanges)
	}
}

func TestExchange_InvalidInput(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		in   ExchangeInput
	}{
		{"missing code", ExchangeInput{Verifier: "v"}},
		{"missing verifier", ExchangeInput{Code: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := srv.Exchange(context.Background(), tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Exchange() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestExchange_MissingStateTolerated(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	in := validInput()
	in.State = ""
	if _, err := srv.Exchange(context.Background(), in); err != nil {
		t.Errorf("Exchange() without state error = %v, want tolerated", err)
	}
}

func TestExchange_MissingStateRejectedWhenRequired(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	srv.Config.RequireState = true

	in := validInput()
	in.State = ""
	if _, err := srv.Exchange(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Exchange() error = %v, want ErrInvalidInput", err)
	}
}

func TestExchange_ProviderRejection(t *testing.T) {
	provider := providermock.New()
	provider.ExchangeCodeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
		return nil, fmt.Errorf("invalid_grant")
	}

	srv := newTestServer(t, provider, nil)

	if _, err := srv.Exchange(context.Background(), validInput()); !errors.Is(err, ErrExchangeRejected) {
		t.Errorf("Exchange() error = %v, want ErrExchangeRejected", err)
	}
}

func TestExchange_ProviderTimeout(t *testing.T) {
	provider := providermock.New()
	provider.ExchangeCodeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
		return nil, context.DeadlineExceeded
	}

	srv := newTestServer(t, provider, nil)

	if _, err := srv.Exchange(context.Background(), validInput()); !errors.Is(err, ErrUpstreamTimeout) {
		t.Errorf("Exchange() error = %v, want ErrUpstreamTimeout", err)
	}
}

func TestExchange_ProfileFetchFailure(t *testing.T) {
	provider := providermock.New()
	provider.FetchProfileFunc = func(context.Context, string) (*providers.Profile, error) {
		return nil, fmt.Errorf("rate limited")
	}

	srv := newTestServer(t, provider, nil)

	if _, err := srv.Exchange(context.Background(), validInput()); !errors.Is(err, ErrExchangeRejected) {
		t.Errorf("Exchange() error = %v, want ErrExchangeRejected", err)
	}
}

func TestRefresh(t *testing.T) {
	provider := providermock.New()
	provider.RefreshTokenFunc = func(_ context.Context, refreshToken string) (*oauth2.Token, error) {
		return &oauth2.Token{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			Expiry:       time.Now().Add(2 * time.Hour),
		}, nil
	}

	srv := newTestServer(t, provider, nil)

	result, err := srv.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if result.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want access-2", result.AccessToken)
	}
	if result.RefreshToken != "refresh-2" {
		t.Errorf("RefreshToken = %q, want rotated refresh-2", result.RefreshToken)
	}
}

func TestRefresh_Rejected(t *testing.T) {
	provider := providermock.New()
	provider.RefreshTokenFunc = func(context.Context, string) (*oauth2.Token, error) {
		return nil, fmt.Errorf("invalid_grant")
	}

	srv := newTestServer(t, provider, nil)

	if _, err := srv.Refresh(context.Background(), "stale"); !errors.Is(err, ErrRefreshRejected) {
		t.Errorf("Refresh() error = %v, want ErrRefreshRejected", err)
	}
}

func TestRefresh_EmptyToken(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	if _, err := srv.Refresh(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Refresh() error = %v, want ErrInvalidInput", err)
	}
}

func TestRevoke(t *testing.T) {
	provider := providermock.New()
	srv := newTestServer(t, provider, nil)

	if err := srv.Revoke(context.Background(), "access-1", "access_token"); err != nil {
		t.Errorf("Revoke() error = %v", err)
	}
	if got := provider.Calls("RevokeToken"); got != 1 {
		t.Errorf("RevokeToken calls = %d, want 1", got)
	}
}

func TestHealthCheck(t *testing.T) {
	provider := providermock.New()
	srv := newTestServer(t, provider, nil)

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	provider.HealthCheckFunc = func(context.Context) error {
		return fmt.Errorf("provider down")
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when the provider is down")
	}
}
