package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessToken is a single-use credential granting read access to one goal,
// normally delivered inside a QR code. The opaque token itself is never
// stored; TokenHash holds its SHA-256 digest. Consumed flips to true exactly
// once, either on the first successful verification or on owner revocation,
// and never flips back.
type AccessToken struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	GoalID string `gorm:"type:uuid;not null;index" json:"goal_id"`
	Goal   *Goal  `gorm:"foreignKey:GoalID" json:"-"`

	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`

	IssuedAt  time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`

	Consumed   bool       `gorm:"not null;default:false" json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

func (t *AccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// ExpiredAt reports whether the token is past its expiry at the given time.
// Tokens without an expiry only die by consumption.
func (t *AccessToken) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
