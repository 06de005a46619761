package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/questline/authbridge/instrumentation"
	"github.com/questline/authbridge/providers"
	"github.com/questline/authbridge/security"
	"github.com/questline/authbridge/store"
)

// Status is the callback state machine's phase, surfaced to subscribers.
type Status string

const (
	// StatusIdle means no callback is being processed
	StatusIdle Status = "idle"
	// StatusVerifying means a callback exchange is in flight
	StatusVerifying Status = "verifying"
	// StatusSuccess means the last callback completed
	StatusSuccess Status = "success"
	// StatusError means the last callback failed
	StatusError Status = "error"
)

// State is the subscriber-visible auth state. Authenticated tracks the
// application session token only; provider tokens expiring never flips it.
type State struct {
	Status        Status
	Authenticated bool
	Profile       *providers.Profile

	// Err is set while Status is StatusError
	Err error
}

// Config holds the runtime's collaborators and tuning.
type Config struct {
	// Provider builds authorization URLs; only its public client
	// configuration is used on this side
	Provider providers.Provider

	// Bridge is the confidential backend client
	Bridge Bridge

	// Store is the token store facade
	Store *store.Store

	// HostDetector identifies the embedding environment; nil means
	// standalone
	HostDetector HostDetector

	// RefreshThreshold is how close to expiry a token may get before the
	// scheduler refreshes it (default 5 minutes)
	RefreshThreshold time.Duration

	// RefreshInterval is the scheduler's poll cadence (default 60s)
	RefreshInterval time.Duration

	// StatusDismissAfter reverts a terminal success/error status back to
	// idle after this delay. Zero keeps terminal statuses until the next
	// transition.
	StatusDismissAfter time.Duration

	// DefaultReturnPath is used when no return path was recorded
	// (default "/")
	DefaultReturnPath string

	// Logger receives runtime warnings; nil falls back to slog.Default()
	Logger *slog.Logger

	// Instrumentation is optional
	Instrumentation *instrumentation.Instrumentation
}

// Manager is the auth runtime: it owns the callback state machine, the
// refresh scheduler, and the subscriber list. All durable state lives in the
// store; Manager can be torn down and rebuilt over the same store without
// losing the session.
type Manager struct {
	provider  providers.Provider
	bridge    Bridge
	store     *store.Store
	host      HostDetector
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
	scheduler *Scheduler

	dismissAfter      time.Duration
	defaultReturnPath string

	mu          sync.Mutex
	status      Status
	lastErr     error
	subscribers map[int]func(State)
	nextSubID   int
	dismissTimer *time.Timer

	unsubscribeStore func()
	closeOnce        sync.Once
}

// New creates a Manager over the given collaborators and subscribes it to
// store changes.
func New(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Bridge == nil {
		return nil, errors.New("bridge is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.HostDetector == nil {
		cfg.HostDetector = StaticHostDetector{}
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = security.DefaultRefreshThreshold
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 60 * time.Second
	}
	if cfg.DefaultReturnPath == "" {
		cfg.DefaultReturnPath = "/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		provider:          cfg.Provider,
		bridge:            cfg.Bridge,
		store:             cfg.Store,
		host:              cfg.HostDetector,
		logger:            cfg.Logger,
		inst:              cfg.Instrumentation,
		dismissAfter:      cfg.StatusDismissAfter,
		defaultReturnPath: cfg.DefaultReturnPath,
		status:            StatusIdle,
		subscribers:       make(map[int]func(State)),
	}
	m.scheduler = newScheduler(schedulerConfig{
		store:     cfg.Store,
		bridge:    cfg.Bridge,
		logger:    cfg.Logger,
		inst:      cfg.Instrumentation,
		threshold: cfg.RefreshThreshold,
		interval:  cfg.RefreshInterval,
	})

	// Any mutation of an auth key may change the subscriber-visible state:
	// an external logout deletes the session token, an external login
	// writes a new profile.
	m.unsubscribeStore = cfg.Store.Subscribe(func(c store.Change) {
		switch c.Key {
		case store.KeySessionToken, store.KeyProfile, store.KeyProviderAccessToken:
			m.notify(context.Background())
		}
	})

	return m, nil
}

// Scheduler exposes the refresh scheduler for lifecycle control and wake
// signaling.
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Close stops the scheduler and detaches from the store. The store itself is
// left open; its owner closes it.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.scheduler.Stop()
		if m.unsubscribeStore != nil {
			m.unsubscribeStore()
		}
		m.mu.Lock()
		if m.dismissTimer != nil {
			m.dismissTimer.Stop()
		}
		m.mu.Unlock()
	})
}

// Subscribe registers a state callback and returns an unsubscribe function.
// The callback fires immediately with the current state.
func (m *Manager) Subscribe(ctx context.Context, fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	fn(m.State(ctx))

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// State reads the current subscriber-visible state.
func (m *Manager) State(ctx context.Context) State {
	m.mu.Lock()
	st := State{Status: m.status, Err: m.lastErr}
	m.mu.Unlock()

	if _, err := m.store.SessionToken(ctx); err == nil {
		st.Authenticated = true
	} else if err != store.ErrNotFound {
		m.logger.Warn("reading session token failed", "error", err)
	}

	if profile, err := m.store.Profile(ctx); err == nil {
		st.Profile = profile
	} else if err != store.ErrNotFound {
		m.logger.Warn("reading cached profile failed", "error", err)
	}

	return st
}

// IsAuthenticated reports whether an application session token is present.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	_, err := m.store.SessionToken(ctx)
	return err == nil
}

// RefreshUser re-fetches the identity profile with the stored provider access
// token and updates the cache. A missing or rejected token leaves the cached
// profile untouched.
func (m *Manager) RefreshUser(ctx context.Context) error {
	ts, err := m.store.ProviderTokens(ctx)
	if err == store.ErrNotFound {
		return fmt.Errorf("no provider tokens stored")
	}
	if err != nil {
		return fmt.Errorf("reading provider tokens: %w", err)
	}

	profile, err := m.provider.FetchProfile(ctx, ts.AccessToken)
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}
	if err := m.store.SetProfile(ctx, profile); err != nil {
		return fmt.Errorf("caching profile: %w", err)
	}
	return nil
}

// Logout ends both sessions: provider tokens are revoked best effort, then
// every auth key is cleared.
func (m *Manager) Logout(ctx context.Context) error {
	ts, err := m.store.ProviderTokens(ctx)
	if err == nil {
		// Revoke the refresh token when there is one; it outlives the
		// access token.
		if ts.RefreshToken != "" {
			if revokeErr := m.bridge.Revoke(ctx, ts.RefreshToken, "refresh_token"); revokeErr != nil {
				m.logger.Warn("refresh token revocation failed", "error", revokeErr)
			}
		}
		if revokeErr := m.bridge.Revoke(ctx, ts.AccessToken, "access_token"); revokeErr != nil {
			m.logger.Warn("access token revocation failed", "error", revokeErr)
		}
	} else if err != store.ErrNotFound {
		m.logger.Warn("reading provider tokens for logout failed", "error", err)
	}

	if err := m.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing auth state: %w", err)
	}

	m.setStatus(ctx, StatusIdle, nil)
	return nil
}

// setStatus transitions the state machine and notifies subscribers. Terminal
// statuses are auto-dismissed back to idle when configured.
func (m *Manager) setStatus(ctx context.Context, status Status, err error) {
	m.mu.Lock()
	m.status = status
	m.lastErr = err
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
		m.dismissTimer = nil
	}
	if m.dismissAfter > 0 && (status == StatusSuccess || status == StatusError) {
		m.dismissTimer = time.AfterFunc(m.dismissAfter, func() {
			m.mu.Lock()
			// Only dismiss if no newer transition happened
			if m.status == status {
				m.status = StatusIdle
				m.lastErr = nil
				m.mu.Unlock()
				m.notify(context.Background())
				return
			}
			m.mu.Unlock()
		})
	}
	m.mu.Unlock()

	m.notify(ctx)
}

// notify delivers the current state to every subscriber.
func (m *Manager) notify(ctx context.Context) {
	st := m.State(ctx)

	m.mu.Lock()
	fns := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (m *Manager) metrics() *instrumentation.Metrics {
	if m.inst == nil {
		return nil
	}
	return m.inst.Metrics()
}
