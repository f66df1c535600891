package models

// Motivation is a quote or link attached to a goal for encouragement.
// At least one of Quote and Link is present; the service enforces it.
type Motivation struct {
	BaseModel

	GoalID string `gorm:"type:uuid;not null;index" json:"goal_id"`
	Goal   *Goal  `gorm:"foreignKey:GoalID" json:"-"`

	Quote string `gorm:"size:500;index" json:"quote,omitempty"`
	Link  string `gorm:"index" json:"link,omitempty"`
}
