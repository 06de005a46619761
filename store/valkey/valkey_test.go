package valkey

import (
	"encoding/json"
	"testing"

	"github.com/questline/authbridge/store"
)

func TestChangeMessageRoundTrip(t *testing.T) {
	msg := changeMessage{Origin: "origin-a", Key: store.KeySessionToken, Op: store.OpDelete}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got changeMessage
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != msg {
		t.Errorf("round trip = %+v, want %+v", got, msg)
	}
}

func TestPrefixed(t *testing.T) {
	s := &Store{prefix: "authbridge:"}
	if got := s.prefixed(store.KeyProfile); got != "authbridge:auth:profile" {
		t.Errorf("prefixed() = %q, want %q", got, "authbridge:auth:profile")
	}
}

func TestOwnOriginIsSkipped(t *testing.T) {
	s := &Store{originID: "me", subscribers: make(map[int]func(store.Change))}

	var received []store.Change
	s.Subscribe(func(c store.Change) { received = append(received, c) })

	// Simulate the receive-loop filter for a self-published message.
	for _, msg := range []changeMessage{
		{Origin: "me", Key: store.KeyProfile, Op: store.OpSet},
		{Origin: "other", Key: store.KeyProfile, Op: store.OpSet},
	} {
		if msg.Origin == s.originID {
			continue
		}
		s.notifyLocal(store.Change{Key: msg.Key, Op: msg.Op, External: true})
	}

	if len(received) != 1 {
		t.Fatalf("got %d changes, want 1", len(received))
	}
	if !received[0].External {
		t.Error("propagated change must be marked external")
	}
}
