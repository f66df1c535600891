package models

import "gorm.io/datatypes"

// Profile holds the display information a user fills in after signup.
// Exactly one profile per user.
type Profile struct {
	BaseModel

	UserID    string `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Bio       string `json:"bio"`

	// Preferences stores free-form client settings (theme, locale, ...).
	Preferences datatypes.JSON `json:"preferences,omitempty"`
}
