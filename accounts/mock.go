package accounts

import (
	"context"
	"sync"

	"github.com/questline/authbridge/providers"
)

// Mock is a configurable Service for tests. Unset funcs report an empty,
// healthy account service.
type Mock struct {
	LookupFunc func(ctx context.Context, handle string) (string, bool, error)
	CreateFunc func(ctx context.Context, profile *providers.Profile, referralCode string) (string, error)
	UpdateFunc func(ctx context.Context, sessionToken string, profile *providers.Profile) error

	mu         sync.Mutex
	callCounts map[string]int
}

// NewMock creates a mock with default behavior: no existing accounts, create
// succeeds with a fixed token, update succeeds.
func NewMock() *Mock {
	return &Mock{callCounts: make(map[string]int)}
}

// Lookup implements Service.
func (m *Mock) Lookup(ctx context.Context, handle string) (string, bool, error) {
	m.record("Lookup")
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, handle)
	}
	return "", false, nil
}

// Create implements Service.
func (m *Mock) Create(ctx context.Context, profile *providers.Profile, referralCode string) (string, error) {
	m.record("Create")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, profile, referralCode)
	}
	return "mock-session-token", nil
}

// Update implements Service.
func (m *Mock) Update(ctx context.Context, sessionToken string, profile *providers.Profile) error {
	m.record("Update")
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, sessionToken, profile)
	}
	return nil
}

// Calls returns how many times the named method was invoked.
func (m *Mock) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCounts == nil {
		m.callCounts = make(map[string]int)
	}
	m.callCounts[method]++
}

var _ Service = (*Mock)(nil)
