package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
)

// Keys for installation-wide settings.
const (
	SettingInstallationID = "install.id"
	SettingJWTSecret      = "auth.jwt_secret"
	SettingMFAKeySalt     = "auth.mfa_key_salt"
	SettingTokenRetention = "qr.token_retention"
)

const defaultTokenRetention = "720h" // 30 days

func newInstallationID() string {
	return uuid.NewString()
}

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// EnsureSystemSecret returns the stored value for key, persisting the supplied
// fallback when nothing is stored yet. Generated secrets (JWT signing key,
// MFA key salt) stay stable across restarts this way.
func EnsureSystemSecret(ctx context.Context, db *gorm.DB, key, fallback string) (string, error) {
	fallback = strings.TrimSpace(fallback)

	current, err := GetSystemSetting(ctx, db, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(current) != "" {
		return current, nil
	}
	if fallback == "" {
		return "", fmt.Errorf("system settings: no value for %q and empty fallback", key)
	}

	if err := UpsertSystemSetting(ctx, db, key, fallback); err != nil {
		return "", err
	}
	return fallback, nil
}
