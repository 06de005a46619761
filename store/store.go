// Package store defines the client-side token store: a namespaced key/value
// facade over a storage backend, with change notification. Every component of
// the auth runtime reads and writes through this facade rather than the raw
// backend, so same-context mutations are observable without event-source
// tricks, and backends that span contexts (valkey) surface external changes
// the same way.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Key is a namespaced storage key. Components mutate only their designated
// keys; the facade methods in tokens.go enforce the grouping.
type Key string

// Storage keys. Provider-token keys and the session-token key are deliberately
// disjoint: clearing one group can never touch the other.
const (
	// Provider token set
	KeyProviderAccessToken  Key = "auth:provider:access_token"
	KeyProviderRefreshToken Key = "auth:provider:refresh_token"
	KeyProviderExpiresAt    Key = "auth:provider:expires_at"

	// Cached identity profile
	KeyProfile Key = "auth:profile"

	// Application session token (independent lifecycle)
	KeySessionToken Key = "auth:session_token"

	// Flow-scoped, one-time values for an in-progress login
	KeyFlowVerifier   Key = "auth:flow:verifier"
	KeyFlowState      Key = "auth:flow:state"
	KeyFlowReturnPath Key = "auth:flow:return_path"

	// Execution-environment marker (embedded host vs. ordinary browser)
	KeyHostEnv Key = "auth:host_env"
)

// Op is a mutation kind.
type Op int

const (
	// OpSet is a key write
	OpSet Op = iota
	// OpDelete is a key removal
	OpDelete
)

// Change describes a single storage mutation.
type Change struct {
	// Key is the mutated key
	Key Key

	// Op is the mutation kind
	Op Op

	// External is true when the mutation originated in another execution
	// context sharing the same backend (another tab/process)
	External bool
}

// KV is the raw backend interface. Implementations must deliver a Change to
// every subscriber for every mutation, including their own; backends shared
// across contexts additionally deliver external mutations with External set.
type KV interface {
	// Get returns the value for key, or ErrNotFound
	Get(ctx context.Context, key Key) (string, error)

	// Set writes the value for key and notifies subscribers
	Set(ctx context.Context, key Key, value string) error

	// Delete removes key and notifies subscribers. Deleting an absent key
	// is a no-op and emits no change.
	Delete(ctx context.Context, key Key) error

	// Subscribe registers a change callback and returns an unsubscribe
	// function. Callbacks must be fast; they run on the notifying
	// goroutine.
	Subscribe(fn func(Change)) (unsubscribe func())

	// Close releases backend resources
	Close() error
}
