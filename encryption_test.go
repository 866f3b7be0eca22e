package shelfsync

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestEncryptorRoundTrip(t *testing.T) {
	key := make([]byte, EncryptionKeySize)
	rand.Read(key)

	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: key})
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	plaintext := []byte(`{"queue":[],"conflicts":[]}`)
	sealed, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("queue")) {
		t.Error("expected ciphertext to hide plaintext content")
	}
	if !isEncrypted(sealed) {
		t.Error("expected sealed payload to carry the encryption magic")
	}

	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("expected round-trip, got %q", opened)
	}
}

func TestEncryptorPasswordDerivation(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	sealed, err := enc.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	// Same password, fresh encryptor: the salt in the header is enough.
	enc2, _ := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "hunter2"})
	opened, err := enc2.Open(sealed)
	if err != nil {
		t.Fatalf("open with same password failed: %v", err)
	}
	if string(opened) != "payload" {
		t.Errorf("expected payload, got %q", opened)
	}

	// Wrong password fails authentication.
	enc3, _ := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "wrong"})
	if _, err := enc3.Open(sealed); err == nil {
		t.Error("expected failure with wrong password")
	}
}

func TestEncryptorPlaintextPassthrough(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatal(err)
	}

	plain := []byte(`{"queue":[]}`)
	opened, err := enc.Open(plain)
	if err != nil {
		t.Fatalf("expected plaintext passthrough, got %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("expected payload unchanged, got %q", opened)
	}
}

func TestEncryptorDisabled(t *testing.T) {
	enc, err := NewEncryptor(EncryptionConfig{})
	if err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if enc != nil {
		t.Fatal("expected nil encryptor when disabled")
	}

	// Nil receiver is a passthrough in both directions.
	sealed, err := enc.Seal([]byte("x"))
	if err != nil || string(sealed) != "x" {
		t.Errorf("expected nil seal passthrough, got %q %v", sealed, err)
	}
	opened, err := enc.Open([]byte("x"))
	if err != nil || string(opened) != "x" {
		t.Errorf("expected nil open passthrough, got %q %v", opened, err)
	}
}

func TestEncryptorConfigValidation(t *testing.T) {
	if _, err := NewEncryptor(EncryptionConfig{Enabled: true}); err == nil {
		t.Error("expected error with no key material")
	}
	if _, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: []byte("short")}); err == nil {
		t.Error("expected error for short key")
	}
}
