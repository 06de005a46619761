package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/questline/authbridge"
	"github.com/questline/authbridge/providers"
	providermock "github.com/questline/authbridge/providers/mock"
	"github.com/questline/authbridge/store"
	"github.com/questline/authbridge/store/memory"
)

// mockBridge is an in-memory Bridge with configurable behavior and call
// counting.
type mockBridge struct {
	ExchangeFunc func(ctx context.Context, req authbridge.ExchangeRequest) (*authbridge.ExchangeResponse, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*authbridge.RefreshResponse, error)
	RevokeFunc   func(ctx context.Context, token, tokenTypeHint string) error

	mu         sync.Mutex
	callCounts map[string]int
}

func newMockBridge() *mockBridge {
	return &mockBridge{
		callCounts: make(map[string]int),
		ExchangeFunc: func(ctx context.Context, req authbridge.ExchangeRequest) (*authbridge.ExchangeResponse, error) {
			return &authbridge.ExchangeResponse{
				Tokens:  authbridge.NewTokenPayload("access-1", "refresh-1", time.Now().Add(2*time.Hour)),
				User:    testProfile(),
				DBToken: "session-1",
			}, nil
		},
		RefreshFunc: func(ctx context.Context, refreshToken string) (*authbridge.RefreshResponse, error) {
			return &authbridge.RefreshResponse{
				Tokens: authbridge.NewTokenPayload("access-2", "refresh-2", time.Now().Add(2*time.Hour)),
			}, nil
		},
		RevokeFunc: func(ctx context.Context, token, tokenTypeHint string) error {
			return nil
		},
	}
}

func (b *mockBridge) count(method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callCounts[method]++
}

func (b *mockBridge) calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callCounts[method]
}

func (b *mockBridge) Exchange(ctx context.Context, req authbridge.ExchangeRequest) (*authbridge.ExchangeResponse, error) {
	b.count("Exchange")
	return b.ExchangeFunc(ctx, req)
}

func (b *mockBridge) Refresh(ctx context.Context, refreshToken string) (*authbridge.RefreshResponse, error) {
	b.count("Refresh")
	return b.RefreshFunc(ctx, refreshToken)
}

func (b *mockBridge) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	b.count("Revoke")
	return b.RevokeFunc(ctx, token, tokenTypeHint)
}

var _ Bridge = (*mockBridge)(nil)

func testProfile() *providers.Profile {
	return &providers.Profile{
		ID:          "user-123",
		Handle:      "testuser",
		DisplayName: "Test User",
	}
}

func newTestManager(t *testing.T, bridge *mockBridge) (*Manager, *store.Store) {
	t.Helper()
	if bridge == nil {
		bridge = newMockBridge()
	}

	st := store.New(memory.New())
	m, err := New(Config{
		Provider: providermock.New(),
		Bridge:   bridge,
		Store:    st,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m, st
}
