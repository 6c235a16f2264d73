package crypto

import (
	"bytes"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "secret") {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword(hash, "incorrect") {
		t.Fatal("wrong password accepted")
	}
}

func TestEncryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	plaintext := []byte("JBSWY3DPEHPK3PXP")

	sealed, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}

	opened, err := Decrypt(sealed, key)
	if err != nil {
		t.Fatalf("decrypt error: %v", err)
	}
	if !bytes.Equal(plaintext, opened) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	other := bytes.Repeat([]byte{0x2}, 32)

	sealed, err := Encrypt([]byte("payload"), key)
	if err != nil {
		t.Fatalf("encrypt error: %v", err)
	}
	if _, err := Decrypt(sealed, other); err == nil {
		t.Fatal("decrypt under the wrong key should fail")
	}
}

func TestDecryptRejectsTruncatedInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x1}, 32)
	if _, err := Decrypt("AAAA", key); err == nil {
		t.Fatal("truncated ciphertext should fail")
	}
}

func TestGenerateTokenIsUnique(t *testing.T) {
	a, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	b, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if a == "" || a == b {
		t.Fatal("tokens should be non-empty and unique")
	}
}
