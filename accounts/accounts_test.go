package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/questline/authbridge/providers"
)

func testProfile() *providers.Profile {
	return &providers.Profile{
		ID:             "12345",
		Handle:         "builder",
		DisplayName:    "The Builder",
		AvatarURL:      "https://img.example/builder.png",
		Verified:       true,
		FollowersCount: 1200,
		FollowingCount: 300,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "svc-key"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, server
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without a base URL")
	}

	cfg.BaseURL = "https://accounts.internal"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestClient_Lookup(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/accounts/builder" {
			t.Errorf("path = %s, want /accounts/builder", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "svc-key" {
			t.Errorf("X-Api-Key = %q, want %q", got, "svc-key")
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"token": "sess-1"}})
	})

	token, found, err := client.Lookup(context.Background(), "builder")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !found {
		t.Fatal("Lookup() found = false, want true")
	}
	if token != "sess-1" {
		t.Errorf("Lookup() token = %q, want %q", token, "sess-1")
	}
}

func TestClient_LookupNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, found, err := client.Lookup(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if found {
		t.Error("Lookup() found = true for a 404, want false")
	}
}

func TestClient_LookupEmptyTokenTreatedAsNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{}})
	})

	_, found, err := client.Lookup(context.Background(), "builder")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if found {
		t.Error("Lookup() found = true with empty token, want false")
	}
}

func TestClient_LookupServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, _, err := client.Lookup(context.Background(), "builder"); err == nil {
		t.Error("Lookup() should fail on a 500")
	}
}

func TestClient_Create(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/accounts" {
			t.Errorf("got %s %s, want POST /accounts", r.Method, r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload["handle"] != "builder" {
			t.Errorf("handle = %v, want builder", payload["handle"])
		}
		if payload["referral_code"] != "FRIEND42" {
			t.Errorf("referral_code = %v, want FRIEND42", payload["referral_code"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"token": "sess-new"}})
	})

	token, err := client.Create(context.Background(), testProfile(), "FRIEND42")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token != "sess-new" {
		t.Errorf("Create() token = %q, want %q", token, "sess-new")
	}
}

func TestClient_CreateConflict(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "handle already registered"})
	})

	if _, err := client.Create(context.Background(), testProfile(), ""); err == nil {
		t.Error("Create() should fail on a conflict")
	}
}

func TestClient_Update(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/accounts/builder" {
			t.Errorf("got %s %s, want PUT /accounts/builder", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sess-1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer sess-1")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Update(context.Background(), "sess-1", testProfile()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestClient_UpdateFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	if err := client.Update(context.Background(), "bad-token", testProfile()); err == nil {
		t.Error("Update() should fail on a 403")
	}
}

func TestClient_HealthCheck(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path = %s, want /healthz", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
