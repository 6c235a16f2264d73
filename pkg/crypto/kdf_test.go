package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyArgon2id(t *testing.T) {
	params := DefaultArgon2Params()
	secret := []byte("operator passphrase")
	salt := bytes.Repeat([]byte{0xA5}, 16)

	first, err := DeriveKeyArgon2id(secret, salt, params)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(first) != int(params.KeyLength) {
		t.Fatalf("key length = %d, want %d", len(first), params.KeyLength)
	}

	second, err := DeriveKeyArgon2id(secret, salt, params)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("derivation must be deterministic for fixed inputs")
	}

	otherSalt, err := DeriveKeyArgon2id(secret, bytes.Repeat([]byte{0x5A}, 16), params)
	if err != nil {
		t.Fatalf("derive with other salt: %v", err)
	}
	if bytes.Equal(first, otherSalt) {
		t.Fatal("different salts must yield different keys")
	}
}

func TestDeriveKeyArgon2idRejectsBadInput(t *testing.T) {
	params := DefaultArgon2Params()
	salt := bytes.Repeat([]byte{0x01}, 16)

	if _, err := DeriveKeyArgon2id(nil, salt, params); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := DeriveKeyArgon2id([]byte("secret"), []byte("short"), params); err == nil {
		t.Fatal("short salt accepted")
	}

	bad := params
	bad.KeyLength = 20
	if _, err := DeriveKeyArgon2id([]byte("secret"), salt, bad); err == nil {
		t.Fatal("non-AES key length accepted")
	}
}

func TestArgon2ParametersValidate(t *testing.T) {
	cases := []struct {
		name   string
		params Argon2Parameters
		valid  bool
	}{
		{"default", DefaultArgon2Params(), true},
		{"aes-128 length", Argon2Parameters{Time: 1, Memory: 64, Threads: 2, KeyLength: 16}, true},
		{"zero time", Argon2Parameters{Memory: 64 * 1024, Threads: 4, KeyLength: 32}, false},
		{"zero threads", Argon2Parameters{Time: 2, Memory: 64 * 1024, KeyLength: 32}, false},
		{"low memory", Argon2Parameters{Time: 2, Memory: 16, Threads: 4, KeyLength: 32}, false},
		{"zero key length", Argon2Parameters{Time: 2, Memory: 64 * 1024, Threads: 4}, false},
		{"odd key length", Argon2Parameters{Time: 2, Memory: 64 * 1024, Threads: 4, KeyLength: 48}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
