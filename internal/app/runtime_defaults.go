package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/sataplan/server/internal/database"
	"github.com/sataplan/server/pkg/crypto"
)

const (
	jwtSecretBytes = 48
	mfaSaltBytes   = 32
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no
// configuration supplies them. Generated values are persisted to the system
// settings table so restarts keep sessions and encrypted MFA secrets valid.
// It returns a map describing which keys were generated so callers can log
// the event without exposing values.
func ApplyRuntimeDefaults(ctx context.Context, db *gorm.DB, cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		fresh, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret, err := database.EnsureSystemSecret(ctx, db, database.SettingJWTSecret, fresh)
		if err != nil {
			return nil, fmt.Errorf("persist jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = secret == fresh
	}

	if strings.TrimSpace(cfg.Auth.MFA.EncryptionKey) == "" {
		fresh, err := generateHexKey(mfaSaltBytes)
		if err != nil {
			return nil, fmt.Errorf("generate mfa key salt: %w", err)
		}
		salt, err := database.EnsureSystemSecret(ctx, db, database.SettingMFAKeySalt, fresh)
		if err != nil {
			return nil, fmt.Errorf("persist mfa key salt: %w", err)
		}
		key, err := deriveMFAKey(cfg.Auth.JWT.Secret, salt)
		if err != nil {
			return nil, fmt.Errorf("derive mfa encryption key: %w", err)
		}
		cfg.Auth.MFA.EncryptionKey = key
		generated["auth.mfa.encryption_key"] = salt == fresh
	}

	return generated, nil
}

// deriveMFAKey stretches the application secret with the stored salt into a
// 32-byte AES key, hex encoded for the config tree.
func deriveMFAKey(secret, salt string) (string, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		saltBytes = []byte(salt)
	}
	key, err := crypto.DeriveKeyArgon2id([]byte(secret), saltBytes, crypto.DefaultArgon2Params())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
