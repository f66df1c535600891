package models

// Goal is a user-defined personal objective. The optional access password
// gates the shareable permanent QR flow and is stored only as a bcrypt hash;
// the plaintext is handed out once when the QR code is generated.
type Goal struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"-"`

	Name        string `gorm:"size:80;not null;index" json:"name"`
	Description string `gorm:"index" json:"description"`

	AccessPasswordHash string `json:"-"`
	CoverImageKey      string `json:"cover_image_key,omitempty"`

	Motivations  []Motivation  `gorm:"foreignKey:GoalID;constraint:OnDelete:CASCADE" json:"motivations,omitempty"`
	AccessTokens []AccessToken `gorm:"foreignKey:GoalID;constraint:OnDelete:CASCADE" json:"-"`
}

// HasAccessPassword reports whether a permanent QR password has been minted.
func (g *Goal) HasAccessPassword() bool {
	return g.AccessPasswordHash != ""
}
