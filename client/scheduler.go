package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/questline/authbridge"
	"github.com/questline/authbridge/instrumentation"
	"github.com/questline/authbridge/security"
	"github.com/questline/authbridge/store"
)

const ensureTimeout = 30 * time.Second

type schedulerConfig struct {
	store     *store.Store
	bridge    Bridge
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
	threshold time.Duration
	interval  time.Duration
}

// Scheduler keeps the provider access token fresh. It checks expiry on a
// fixed cadence and on explicit Wake signals (the host regaining focus, the
// app coming back online), refreshing when the token is within the threshold
// of expiring.
//
// However many triggers fire at once, at most one refresh is in flight; the
// rest are skipped, not queued.
type Scheduler struct {
	store     *store.Store
	bridge    Bridge
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
	threshold time.Duration
	interval  time.Duration

	refreshInFlight atomic.Bool
	wake            chan struct{}
	stop            chan struct{}
	startOnce       sync.Once
	stopOnce        sync.Once
}

func newScheduler(cfg schedulerConfig) *Scheduler {
	return &Scheduler{
		store:     cfg.store,
		bridge:    cfg.bridge,
		logger:    cfg.logger,
		inst:      cfg.inst,
		threshold: cfg.threshold,
		interval:  cfg.interval,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start launches the background loop. Safe to call once; later calls are
// no-ops.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop terminates the background loop. An in-flight refresh finishes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Wake asks the scheduler to check expiry now instead of waiting for the next
// tick. Non-blocking; coalesces with a pending wake.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.wake:
		}

		ctx, cancel := context.WithTimeout(context.Background(), ensureTimeout)
		if err := s.EnsureValidToken(ctx); err != nil {
			s.logger.Warn("scheduled token refresh failed", "error", err)
		}
		cancel()
	}
}

// EnsureValidToken refreshes the provider token set if it is close to expiry.
// When another refresh is already in flight the call is skipped immediately.
//
// A rejected refresh clears the provider tokens but leaves the application
// session token in place: the user stays signed in to the application and
// only re-authorizes the provider when they next need it.
func (s *Scheduler) EnsureValidToken(ctx context.Context) error {
	if !s.refreshInFlight.CompareAndSwap(false, true) {
		if metrics := s.metrics(); metrics != nil {
			metrics.RecordRefreshSkipped(ctx)
		}
		s.logger.Debug("refresh already in flight, skipping")
		return nil
	}
	defer s.refreshInFlight.Store(false)

	ts, err := s.store.ProviderTokens(ctx)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if !security.IsCloseToExpiry(ts.ExpiresAt, s.threshold) {
		return nil
	}

	if ts.RefreshToken == "" {
		// Nothing to refresh with. Drop the dying token set; the session
		// survives and the user can re-authorize on demand.
		s.logger.Info("provider token expiring with no refresh token, clearing provider tokens")
		return s.store.ClearProviderTokens(ctx)
	}

	resp, err := s.bridge.Refresh(ctx, ts.RefreshToken)
	if err != nil {
		if metrics := s.metrics(); metrics != nil {
			metrics.RecordTokenRefresh(ctx, false)
		}
		// A timeout says nothing about the refresh token's validity. Keep
		// the set and let the next scheduled check retry; only an
		// authoritative rejection clears it.
		if isTransientRefreshErr(err) {
			s.logger.Warn("token refresh timed out, retrying on next check", "error", err)
			return err
		}
		s.logger.Warn("token refresh rejected, clearing provider tokens", "error", err)
		if clearErr := s.store.ClearProviderTokens(ctx); clearErr != nil {
			return clearErr
		}
		return err
	}

	next := store.TokenSet{
		AccessToken:  resp.Tokens.AccessToken,
		RefreshToken: resp.Tokens.RefreshToken,
		ExpiresAt:    resp.Tokens.Expiry(),
	}
	// Providers that don't rotate omit the refresh token; carry the old one
	// forward so the next cycle can still refresh.
	if next.RefreshToken == "" {
		next.RefreshToken = ts.RefreshToken
	}
	if err := s.store.SetProviderTokens(ctx, next); err != nil {
		return err
	}

	if metrics := s.metrics(); metrics != nil {
		metrics.RecordTokenRefresh(ctx, true)
	}
	s.logger.Info("provider token refreshed", "expires_at", next.ExpiresAt)
	return nil
}

// isTransientRefreshErr reports whether a refresh failure is retryable: the
// bridge or an upstream hop timed out rather than rejecting the token.
func isTransientRefreshErr(err error) bool {
	if errors.Is(err, ErrBridgeTimeout) {
		return true
	}
	var bridgeErr *BridgeError
	return errors.As(err, &bridgeErr) && bridgeErr.Code == authbridge.ErrorCodeNetworkTimeout
}

func (s *Scheduler) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}
