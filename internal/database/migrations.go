package database

import (
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Profile{},
		&models.Goal{},
		&models.Motivation{},
		&models.AccessToken{},
		&models.Session{},
		&models.PasswordResetToken{},
		&models.MFASecret{},
		&models.AuditLog{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	)
}

// SeedData populates installation-wide defaults that must survive restarts.
func SeedData(db *gorm.DB) error {
	settings := []models.SystemSetting{
		{Key: SettingInstallationID, Value: newInstallationID()},
		{Key: SettingTokenRetention, Value: defaultTokenRetention},
	}

	for _, setting := range settings {
		if err := db.Where(models.SystemSetting{Key: setting.Key}).
			Attrs(setting).
			FirstOrCreate(&models.SystemSetting{}).Error; err != nil {
			return err
		}
	}

	return nil
}
