package security

import (
	"bytes"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte("k"), 32)
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	if !enc.Enabled() {
		t.Fatal("Enabled() = false with a key")
	}

	plaintext := "provider-access-token-abc123"

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == plaintext {
		t.Error("Encrypt() returned plaintext unchanged")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if got != plaintext {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptor_UniqueNonces(t *testing.T) {
	key := bytes.Repeat([]byte("k"), 32)
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	a, _ := enc.Encrypt("same-input")
	b, _ := enc.Encrypt("same-input")
	if a == b {
		t.Error("two encryptions of the same input produced identical ciphertext")
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor(nil) error = %v", err)
	}
	if enc.Enabled() {
		t.Error("Enabled() = true without a key")
	}

	out, err := enc.Encrypt("pass-through")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if out != "pass-through" {
		t.Errorf("disabled Encrypt() = %q, want pass-through", out)
	}
}

func TestEncryptor_InvalidKeySize(t *testing.T) {
	if _, err := NewEncryptor([]byte("short")); err == nil {
		t.Error("NewEncryptor() should reject a short key")
	}
}

func TestEncryptor_TamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte("k"), 32)
	enc, _ := NewEncryptor(key)

	ciphertext, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := "A" + ciphertext[1:]
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("Decrypt() should fail on tampered ciphertext")
	}
}
