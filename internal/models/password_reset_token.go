package models

import "time"

// PasswordResetToken is a single-use credential mailed to the user; only the
// SHA-256 digest is stored. UsedAt doubles as the consumption marker.
type PasswordResetToken struct {
	BaseModel

	UserID    string     `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
}
