package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/finovant/paydesk/pkg/crypto"
)

const (
	jwtSecretBytes     = 48
	encryptionKeyBytes = 32
)

// ApplyRuntimeDefaults fills in the secrets a bare deployment needs to boot:
// the JWT signing secret and the TOTP encryption key. The returned map names
// which keys were generated so the caller can log the fact without logging
// the values. Operators running more than one instance must configure these
// explicitly or sessions and enrolments will not survive a restart.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	// A configured passphrase derives the key instead; only generate one
	// when neither form is present.
	if strings.TrimSpace(cfg.Security.EncryptionKey) == "" &&
		strings.TrimSpace(cfg.Security.EncryptionPassphrase) == "" {
		key, err := randomHex(encryptionKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
		cfg.Security.EncryptionKey = key
		generated["security.encryption_key"] = true
	}

	return generated, nil
}

func randomHex(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
