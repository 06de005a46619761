// Package pkce implements Proof Key for Code Exchange (RFC 7636) challenge
// generation for the authorization-code flow, plus the CSRF state token that
// travels with each login attempt.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// PKCE code challenge methods
const (
	// MethodS256 is the SHA-256 code challenge method (the only method this
	// module emits; "plain" is deprecated in OAuth 2.1)
	MethodS256 = "S256"
)

// Challenge is the one-time secret material for a single login attempt.
// The verifier never leaves the client except in the final token exchange;
// only the derived challenge is sent on the authorization redirect.
type Challenge struct {
	// Verifier is the high-entropy secret (43-character base64url, 256 bits)
	Verifier string

	// CodeChallenge is the S256 derivation of Verifier
	CodeChallenge string

	// State is an unrelated random token echoed through the authorization
	// redirect for CSRF protection
	State string
}

// GenerateChallenge produces a fresh verifier/challenge pair and CSRF state.
// Every call returns an unrelated triple; nothing is memoized. The verifier
// and state are generated with oauth2.GenerateVerifier, which draws 32 bytes
// from crypto/rand.
func GenerateChallenge() Challenge {
	verifier := oauth2.GenerateVerifier()
	return Challenge{
		Verifier:      verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:         oauth2.GenerateVerifier(),
	}
}

// VerifierMatches reports whether verifier derives the given S256 challenge.
// Comparison is constant-time to avoid leaking challenge bytes via timing.
func VerifierMatches(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(derived)) == 1
}
