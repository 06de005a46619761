package memory

import (
	"context"
	"testing"

	"github.com/questline/authbridge/store"
)

func TestStore_GetSetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, store.KeySessionToken); err != store.ErrNotFound {
		t.Errorf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, store.KeySessionToken, "tok"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, store.KeySessionToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "tok" {
		t.Errorf("Get() = %q, want %q", got, "tok")
	}

	if err := s.Delete(ctx, store.KeySessionToken); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, store.KeySessionToken); err != store.ErrNotFound {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_SubscribeReceivesChanges(t *testing.T) {
	s := New()
	ctx := context.Background()

	var changes []store.Change
	unsubscribe := s.Subscribe(func(c store.Change) {
		changes = append(changes, c)
	})

	if err := s.Set(ctx, store.KeyProfile, "p"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete(ctx, store.KeyProfile); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[0].Key != store.KeyProfile || changes[0].Op != store.OpSet {
		t.Errorf("changes[0] = %+v, want set of %s", changes[0], store.KeyProfile)
	}
	if changes[1].Op != store.OpDelete {
		t.Errorf("changes[1].Op = %v, want OpDelete", changes[1].Op)
	}
	if changes[0].External || changes[1].External {
		t.Error("in-process changes must not be marked external")
	}

	unsubscribe()
	if err := s.Set(ctx, store.KeyProfile, "p2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("got %d changes after unsubscribe, want 2", len(changes))
	}
}

func TestStore_DeleteAbsentKeyEmitsNoChange(t *testing.T) {
	s := New()

	notified := 0
	s.Subscribe(func(store.Change) { notified++ })

	if err := s.Delete(context.Background(), store.KeyFlowState); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if notified != 0 {
		t.Errorf("got %d notifications for absent-key delete, want 0", notified)
	}
}
