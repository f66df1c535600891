package crypto

import (
	"bytes"
	"testing"
)

func kdfSalt(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, minKDFSaltLen)
}

func TestDeriveKeyArgon2id(t *testing.T) {
	params := DefaultArgon2Params()
	secret := []byte("super-secret-passphrase")

	first, err := DeriveKeyArgon2id(secret, kdfSalt(0xA5), params)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if len(first) != int(params.KeyLength) {
		t.Fatalf("expected key length %d, got %d", params.KeyLength, len(first))
	}

	// Same inputs derive the same key.
	again, err := DeriveKeyArgon2id(secret, kdfSalt(0xA5), params)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if !bytes.Equal(first, again) {
		t.Fatal("expected deterministic key derivation")
	}

	// A different salt changes the key.
	other, err := DeriveKeyArgon2id(secret, kdfSalt(0x5A), params)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Fatal("expected different keys for different salts")
	}
}

func TestDeriveKeyArgon2idRejectsBadInput(t *testing.T) {
	params := DefaultArgon2Params()

	if _, err := DeriveKeyArgon2id(nil, kdfSalt(0x01), params); err == nil {
		t.Fatal("expected error when secret is empty")
	}
	if _, err := DeriveKeyArgon2id([]byte("secret"), []byte("short"), params); err == nil {
		t.Fatal("expected error when salt is too short")
	}

	params.KeyLength = 20
	if _, err := DeriveKeyArgon2id([]byte("secret"), kdfSalt(0x02), params); err == nil {
		t.Fatal("expected error for invalid key length")
	}
}

func TestArgon2ParametersValidate(t *testing.T) {
	good := DefaultArgon2Params()
	if err := good.Validate(); err != nil {
		t.Fatalf("expected default params to validate: %v", err)
	}

	mutations := map[string]func(*Argon2Parameters){
		"zero time":          func(p *Argon2Parameters) { p.Time = 0 },
		"zero threads":       func(p *Argon2Parameters) { p.Threads = 0 },
		"low memory":         func(p *Argon2Parameters) { p.Memory = 16 },
		"zero key length":    func(p *Argon2Parameters) { p.KeyLength = 0 },
		"invalid key length": func(p *Argon2Parameters) { p.KeyLength = 48 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			params := DefaultArgon2Params()
			mutate(&params)
			if err := params.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
