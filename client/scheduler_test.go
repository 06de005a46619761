package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/questline/authbridge"
	"github.com/questline/authbridge/store"
)

func seedTokens(t *testing.T, st *store.Store, expiresIn time.Duration, refreshToken string) {
	t.Helper()
	err := st.SetProviderTokens(context.Background(), store.TokenSet{
		AccessToken:  "access-old",
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(expiresIn),
	})
	if err != nil {
		t.Fatalf("SetProviderTokens() error = %v", err)
	}
}

func TestEnsureValidToken_NoTokens(t *testing.T) {
	bridge := newMockBridge()
	m, _ := newTestManager(t, bridge)

	if err := m.Scheduler().EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := bridge.calls("Refresh"); got != 0 {
		t.Errorf("Refresh calls = %d, want 0 with no tokens", got)
	}
}

func TestEnsureValidToken_FarFromExpiry(t *testing.T) {
	bridge := newMockBridge()
	m, st := newTestManager(t, bridge)
	seedTokens(t, st, time.Hour, "refresh-old")

	if err := m.Scheduler().EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := bridge.calls("Refresh"); got != 0 {
		t.Errorf("Refresh calls = %d, want 0 an hour before expiry", got)
	}
}

func TestEnsureValidToken_CloseToExpiry(t *testing.T) {
	bridge := newMockBridge()
	m, st := newTestManager(t, bridge)
	seedTokens(t, st, 2*time.Minute, "refresh-old")

	if err := m.Scheduler().EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := bridge.calls("Refresh"); got != 1 {
		t.Fatalf("Refresh calls = %d, want 1", got)
	}

	ts, err := st.ProviderTokens(context.Background())
	if err != nil {
		t.Fatalf("ProviderTokens() error = %v", err)
	}
	if ts.AccessToken != "access-2" || ts.RefreshToken != "refresh-2" {
		t.Errorf("tokens after refresh = %+v", ts)
	}
}

func TestEnsureValidToken_CarriesRefreshTokenForward(t *testing.T) {
	bridge := newMockBridge()
	bridge.RefreshFunc = func(ctx context.Context, refreshToken string) (*authbridge.RefreshResponse, error) {
		// Provider does not rotate: response omits the refresh token
		return &authbridge.RefreshResponse{
			Tokens: authbridge.NewTokenPayload("access-2", "", time.Now().Add(2*time.Hour)),
		}, nil
	}

	m, st := newTestManager(t, bridge)
	seedTokens(t, st, time.Minute, "refresh-old")

	if err := m.Scheduler().EnsureValidToken(context.Background()); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	ts, err := st.ProviderTokens(context.Background())
	if err != nil {
		t.Fatalf("ProviderTokens() error = %v", err)
	}
	if ts.RefreshToken != "refresh-old" {
		t.Errorf("RefreshToken = %q, want refresh-old carried forward", ts.RefreshToken)
	}
}

func TestEnsureValidToken_FailureClearsTokensKeepsSession(t *testing.T) {
	bridge := newMockBridge()
	bridge.RefreshFunc = func(context.Context, string) (*authbridge.RefreshResponse, error) {
		return nil, fmt.Errorf("refresh rejected")
	}

	m, st := newTestManager(t, bridge)
	ctx := context.Background()
	seedTokens(t, st, time.Minute, "refresh-old")
	if err := st.SetSessionToken(ctx, "session-1"); err != nil {
		t.Fatalf("SetSessionToken() error = %v", err)
	}

	if err := m.Scheduler().EnsureValidToken(ctx); err == nil {
		t.Fatal("EnsureValidToken() error = nil, want refresh error")
	}

	if _, err := st.ProviderTokens(ctx); err != store.ErrNotFound {
		t.Errorf("ProviderTokens() error = %v, want ErrNotFound after failed refresh", err)
	}
	// The application session outlives the provider tokens
	if session, err := st.SessionToken(ctx); err != nil || session != "session-1" {
		t.Errorf("SessionToken() = %q, %v, want session-1 preserved", session, err)
	}
}

func TestEnsureValidToken_TimeoutKeepsTokens(t *testing.T) {
	bridge := newMockBridge()
	bridge.RefreshFunc = func(context.Context, string) (*authbridge.RefreshResponse, error) {
		return nil, fmt.Errorf("%w: context deadline exceeded", ErrBridgeTimeout)
	}

	m, st := newTestManager(t, bridge)
	ctx := context.Background()
	seedTokens(t, st, time.Minute, "refresh-old")

	if err := m.Scheduler().EnsureValidToken(ctx); err == nil {
		t.Fatal("EnsureValidToken() error = nil, want timeout error")
	}

	// A transient timeout must leave the set intact so the next check can
	// retry with the same refresh token
	ts, err := st.ProviderTokens(ctx)
	if err != nil {
		t.Fatalf("ProviderTokens() error = %v, want tokens kept after timeout", err)
	}
	if ts.RefreshToken != "refresh-old" {
		t.Errorf("RefreshToken = %q, want refresh-old", ts.RefreshToken)
	}
}

func TestEnsureValidToken_UpstreamTimeoutKeepsTokens(t *testing.T) {
	bridge := newMockBridge()
	bridge.RefreshFunc = func(context.Context, string) (*authbridge.RefreshResponse, error) {
		// The bridge answered, but the provider behind it timed out
		return nil, &BridgeError{
			Code:        authbridge.ErrorCodeNetworkTimeout,
			Description: "upstream did not respond in time",
			Status:      504,
		}
	}

	m, st := newTestManager(t, bridge)
	ctx := context.Background()
	seedTokens(t, st, time.Minute, "refresh-old")

	if err := m.Scheduler().EnsureValidToken(ctx); err == nil {
		t.Fatal("EnsureValidToken() error = nil, want timeout error")
	}
	if _, err := st.ProviderTokens(ctx); err != nil {
		t.Errorf("ProviderTokens() error = %v, want tokens kept after upstream timeout", err)
	}
}

func TestEnsureValidToken_NoRefreshToken(t *testing.T) {
	bridge := newMockBridge()
	m, st := newTestManager(t, bridge)
	ctx := context.Background()
	seedTokens(t, st, time.Minute, "")

	if err := m.Scheduler().EnsureValidToken(ctx); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := bridge.calls("Refresh"); got != 0 {
		t.Errorf("Refresh calls = %d, want 0 without a refresh token", got)
	}
	if _, err := st.ProviderTokens(ctx); err != store.ErrNotFound {
		t.Errorf("ProviderTokens() error = %v, want dying tokens cleared", err)
	}
}

func TestEnsureValidToken_MissingExpiryTriggersRefresh(t *testing.T) {
	bridge := newMockBridge()
	m, st := newTestManager(t, bridge)
	ctx := context.Background()

	// Token set persisted without an expiry key, as an older client version
	// left it. An unknown expiry is refresh-eligible, not immortal.
	kv := st.KV()
	if err := kv.Set(ctx, store.KeyProviderAccessToken, "access-old"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(ctx, store.KeyProviderRefreshToken, "refresh-old"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := m.Scheduler().EnsureValidToken(ctx); err != nil {
		t.Fatalf("EnsureValidToken() error = %v", err)
	}
	if got := bridge.calls("Refresh"); got != 1 {
		t.Errorf("Refresh calls = %d, want 1 for a set with unknown expiry", got)
	}
}

func TestEnsureValidToken_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	bridge := newMockBridge()
	bridge.RefreshFunc = func(context.Context, string) (*authbridge.RefreshResponse, error) {
		close(started)
		<-release
		return &authbridge.RefreshResponse{
			Tokens: authbridge.NewTokenPayload("access-2", "refresh-2", time.Now().Add(2*time.Hour)),
		}, nil
	}

	m, st := newTestManager(t, bridge)
	ctx := context.Background()
	seedTokens(t, st, time.Minute, "refresh-old")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Scheduler().EnsureValidToken(ctx); err != nil {
			t.Errorf("EnsureValidToken() error = %v", err)
		}
	}()
	<-started

	// Every trigger that lands while the refresh is in flight is skipped
	for i := 0; i < 10; i++ {
		if err := m.Scheduler().EnsureValidToken(ctx); err != nil {
			t.Errorf("concurrent EnsureValidToken() error = %v", err)
		}
	}

	close(release)
	wg.Wait()
	if got := bridge.calls("Refresh"); got != 1 {
		t.Errorf("Refresh calls = %d, want exactly 1", got)
	}
}

func TestSchedulerWake(t *testing.T) {
	bridge := newMockBridge()
	m, st := newTestManager(t, bridge)
	seedTokens(t, st, time.Minute, "refresh-old")

	s := m.Scheduler()
	s.interval = time.Hour // only the wake signal can trigger within the test
	s.Start()
	defer s.Stop()

	s.Wake()

	deadline := time.After(2 * time.Second)
	for bridge.calls("Refresh") == 0 {
		select {
		case <-deadline:
			t.Fatal("refresh did not run after Wake()")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSchedulerWake_Coalesces(t *testing.T) {
	m, _ := newTestManager(t, nil)
	s := m.Scheduler()

	// Must not block even when nothing is draining the channel
	for i := 0; i < 100; i++ {
		s.Wake()
	}
}
