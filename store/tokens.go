package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/questline/authbridge/providers"
)

// TokenSet is the provider-issued token triple persisted across the three
// provider keys. ExpiresAt is stored as epoch milliseconds on the wire and in
// the backend.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// FlowState holds the one-time values persisted between login initiation and
// the callback.
type FlowState struct {
	Verifier string
	State    string
}

// Store is the typed facade over a KV backend. Provider-token operations and
// session-token operations never touch each other's keys.
type Store struct {
	kv KV
}

// New wraps a KV backend in the typed facade.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// KV exposes the underlying backend, for subscription wiring.
func (s *Store) KV() KV {
	return s.kv
}

// Subscribe registers a change callback on the underlying backend.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	return s.kv.Subscribe(fn)
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// SetProviderTokens persists the provider token set. The refresh-token key is
// deleted when the set carries none, so a stale refresh token from an earlier
// login can't outlive it.
func (s *Store) SetProviderTokens(ctx context.Context, ts TokenSet) error {
	if err := s.kv.Set(ctx, KeyProviderAccessToken, ts.AccessToken); err != nil {
		return fmt.Errorf("persisting access token: %w", err)
	}
	if ts.RefreshToken != "" {
		if err := s.kv.Set(ctx, KeyProviderRefreshToken, ts.RefreshToken); err != nil {
			return fmt.Errorf("persisting refresh token: %w", err)
		}
	} else if err := s.kv.Delete(ctx, KeyProviderRefreshToken); err != nil {
		return fmt.Errorf("clearing stale refresh token: %w", err)
	}
	millis := strconv.FormatInt(ts.ExpiresAt.UnixMilli(), 10)
	if err := s.kv.Set(ctx, KeyProviderExpiresAt, millis); err != nil {
		return fmt.Errorf("persisting token expiry: %w", err)
	}
	return nil
}

// ProviderTokens reads the provider token set. Returns ErrNotFound when no
// access token is stored; a missing refresh token or expiry is tolerated.
func (s *Store) ProviderTokens(ctx context.Context) (TokenSet, error) {
	access, err := s.kv.Get(ctx, KeyProviderAccessToken)
	if err != nil {
		return TokenSet{}, err
	}
	ts := TokenSet{AccessToken: access}

	if refresh, err := s.kv.Get(ctx, KeyProviderRefreshToken); err == nil {
		ts.RefreshToken = refresh
	} else if err != ErrNotFound {
		return TokenSet{}, err
	}

	if raw, err := s.kv.Get(ctx, KeyProviderExpiresAt); err == nil {
		millis, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return TokenSet{}, fmt.Errorf("parsing token expiry %q: %w", raw, parseErr)
		}
		ts.ExpiresAt = time.UnixMilli(millis)
	} else if err != ErrNotFound {
		return TokenSet{}, err
	}

	return ts, nil
}

// ClearProviderTokens removes the provider token set and cached profile. The
// session token is untouched: its lifecycle is independent.
func (s *Store) ClearProviderTokens(ctx context.Context) error {
	for _, key := range []Key{KeyProviderAccessToken, KeyProviderRefreshToken, KeyProviderExpiresAt, KeyProfile} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	return nil
}

// SetSessionToken persists the application session token.
func (s *Store) SetSessionToken(ctx context.Context, token string) error {
	return s.kv.Set(ctx, KeySessionToken, token)
}

// SessionToken reads the application session token, or ErrNotFound.
func (s *Store) SessionToken(ctx context.Context) (string, error) {
	return s.kv.Get(ctx, KeySessionToken)
}

// ClearSessionToken removes only the application session token.
func (s *Store) ClearSessionToken(ctx context.Context) error {
	return s.kv.Delete(ctx, KeySessionToken)
}

// SetProfile caches the identity profile as JSON.
func (s *Store) SetProfile(ctx context.Context, p *providers.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return s.kv.Set(ctx, KeyProfile, string(raw))
}

// Profile reads the cached identity profile, or ErrNotFound.
func (s *Store) Profile(ctx context.Context) (*providers.Profile, error) {
	raw, err := s.kv.Get(ctx, KeyProfile)
	if err != nil {
		return nil, err
	}
	var p providers.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding cached profile: %w", err)
	}
	return &p, nil
}

// SetFlowState persists the verifier and CSRF state for an in-progress login,
// replacing any previous flow's values.
func (s *Store) SetFlowState(ctx context.Context, fs FlowState) error {
	if err := s.kv.Set(ctx, KeyFlowVerifier, fs.Verifier); err != nil {
		return fmt.Errorf("persisting verifier: %w", err)
	}
	if err := s.kv.Set(ctx, KeyFlowState, fs.State); err != nil {
		return fmt.Errorf("persisting state: %w", err)
	}
	return nil
}

// ConsumeFlowState reads and deletes the flow state in one call. The values
// are removed before being returned to the caller, so a replayed callback
// finds nothing even if the first exchange is still in flight. Returns
// ErrNotFound when no verifier is stored; a missing state value alone is
// tolerated and reported as an empty State.
func (s *Store) ConsumeFlowState(ctx context.Context) (FlowState, error) {
	verifier, err := s.kv.Get(ctx, KeyFlowVerifier)
	if err != nil {
		return FlowState{}, err
	}
	var fs FlowState
	fs.Verifier = verifier

	if state, err := s.kv.Get(ctx, KeyFlowState); err == nil {
		fs.State = state
	} else if err != ErrNotFound {
		return FlowState{}, err
	}

	if err := s.kv.Delete(ctx, KeyFlowVerifier); err != nil {
		return FlowState{}, fmt.Errorf("consuming verifier: %w", err)
	}
	if err := s.kv.Delete(ctx, KeyFlowState); err != nil {
		return FlowState{}, fmt.Errorf("consuming state: %w", err)
	}
	return fs, nil
}

// SetReturnPath records where the user should land after a completed login.
func (s *Store) SetReturnPath(ctx context.Context, path string) error {
	return s.kv.Set(ctx, KeyFlowReturnPath, path)
}

// ConsumeReturnPath reads and deletes the stored return path. Returns the
// empty string when none was recorded.
func (s *Store) ConsumeReturnPath(ctx context.Context) (string, error) {
	path, err := s.kv.Get(ctx, KeyFlowReturnPath)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := s.kv.Delete(ctx, KeyFlowReturnPath); err != nil {
		return "", fmt.Errorf("consuming return path: %w", err)
	}
	return path, nil
}

// SetHostEnv records the detected execution environment marker.
func (s *Store) SetHostEnv(ctx context.Context, env string) error {
	return s.kv.Set(ctx, KeyHostEnv, env)
}

// HostEnv reads the recorded environment marker, or the empty string.
func (s *Store) HostEnv(ctx context.Context) (string, error) {
	env, err := s.kv.Get(ctx, KeyHostEnv)
	if err == ErrNotFound {
		return "", nil
	}
	return env, err
}

// ClearAll removes every auth key. Used by logout, which ends both the
// provider session and the application session.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, key := range []Key{
		KeyProviderAccessToken, KeyProviderRefreshToken, KeyProviderExpiresAt,
		KeyProfile, KeySessionToken,
		KeyFlowVerifier, KeyFlowState, KeyFlowReturnPath,
	} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	return nil
}
