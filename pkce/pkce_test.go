package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestGenerateChallenge(t *testing.T) {
	c := GenerateChallenge()

	if c.Verifier == "" {
		t.Fatal("GenerateChallenge() returned empty verifier")
	}
	if c.CodeChallenge == "" {
		t.Fatal("GenerateChallenge() returned empty challenge")
	}
	if c.State == "" {
		t.Fatal("GenerateChallenge() returned empty state")
	}

	// oauth2.GenerateVerifier draws 32 bytes, base64url without padding
	if len(c.Verifier) != 43 {
		t.Errorf("verifier length = %d, want 43", len(c.Verifier))
	}

	// Challenge must be the S256 derivation of the verifier
	sum := sha256.Sum256([]byte(c.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if c.CodeChallenge != want {
		t.Errorf("CodeChallenge = %q, want S256(verifier) = %q", c.CodeChallenge, want)
	}

	// State is generated independently of the verifier
	if c.State == c.Verifier || c.State == c.CodeChallenge {
		t.Error("state must be unrelated to the verifier/challenge pair")
	}
}

func TestGenerateChallenge_Unrelated(t *testing.T) {
	a := GenerateChallenge()
	b := GenerateChallenge()

	if a.Verifier == b.Verifier {
		t.Error("two calls returned the same verifier")
	}
	if a.CodeChallenge == b.CodeChallenge {
		t.Error("two calls returned the same challenge")
	}
	if a.State == b.State {
		t.Error("two calls returned the same state")
	}
}

func TestVerifierMatches(t *testing.T) {
	c := GenerateChallenge()

	if !VerifierMatches(c.CodeChallenge, c.Verifier) {
		t.Error("VerifierMatches() = false for a matching pair")
	}
	if VerifierMatches(c.CodeChallenge, "wrong-verifier") {
		t.Error("VerifierMatches() = true for a wrong verifier")
	}
	if VerifierMatches(c.CodeChallenge, "") {
		t.Error("VerifierMatches() = true for an empty verifier")
	}
}
