package crypto

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2Parameters are the cost factors for Argon2id key derivation, used
// when the encryption key is supplied as an operator passphrase instead of
// raw key material.
type Argon2Parameters struct {
	Time      uint32 // iterations
	Memory    uint32 // KiB
	Threads   uint8
	KeyLength uint32 // bytes; must be a valid AES key size
}

// DefaultArgon2Params is the production cost profile: 64 MiB, 2 passes,
// 4 lanes, 32-byte key.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      2,
		Memory:    64 * 1024,
		Threads:   4,
		KeyLength: 32,
	}
}

// Validate rejects parameter sets Argon2id cannot run with, and key lengths
// AES cannot use.
func (p Argon2Parameters) Validate() error {
	switch {
	case p.Time == 0:
		return fmt.Errorf("argon2: time cost must be greater than zero")
	case p.Threads == 0:
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	case p.KeyLength != 16 && p.KeyLength != 24 && p.KeyLength != 32:
		return fmt.Errorf("argon2: key length must be 16, 24, or 32 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// DeriveKeyArgon2id stretches secret into an encryption key. The salt must
// carry at least 128 bits and derivation is deterministic for fixed inputs.
func DeriveKeyArgon2id(secret, salt []byte, params Argon2Parameters) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("argon2: secret is required")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("argon2: salt must be at least 16 bytes (got %d)", len(salt))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, params.KeyLength), nil
}
