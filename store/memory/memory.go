// Package memory provides an in-process store backend. It is the default for
// single-context deployments and for tests; all mutations are observable
// through subscriptions, but changes are never marked external because no
// other context can share the map.
package memory

import (
	"context"
	"sync"

	"github.com/questline/authbridge/store"
)

// Store is an in-memory KV backend.
type Store struct {
	mu          sync.RWMutex
	data        map[store.Key]string
	subscribers map[int]func(store.Change)
	nextSubID   int
	closed      bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:        make(map[store.Key]string),
		subscribers: make(map[int]func(store.Change)),
	}
}

// Get implements store.KV.
func (s *Store) Get(_ context.Context, key store.Key) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

// Set implements store.KV.
func (s *Store) Set(_ context.Context, key store.Key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	fns := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	notify(fns, store.Change{Key: key, Op: store.OpSet})
	return nil
}

// Delete implements store.KV. Deleting an absent key emits no change.
func (s *Store) Delete(_ context.Context, key store.Key) error {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	var fns []func(store.Change)
	if existed {
		fns = s.snapshotSubscribersLocked()
	}
	s.mu.Unlock()

	if existed {
		notify(fns, store.Change{Key: key, Op: store.OpDelete})
	}
	return nil
}

// Subscribe implements store.KV.
func (s *Store) Subscribe(fn func(store.Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Close implements store.KV.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = make(map[store.Key]string)
	s.subscribers = make(map[int]func(store.Change))
	return nil
}

// Len returns the number of stored keys. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// snapshotSubscribersLocked copies the subscriber set so callbacks run outside
// the lock. Callers must hold mu.
func (s *Store) snapshotSubscribersLocked() []func(store.Change) {
	fns := make([]func(store.Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(store.Change), change store.Change) {
	for _, fn := range fns {
		fn(change)
	}
}

var _ store.KV = (*Store)(nil)
