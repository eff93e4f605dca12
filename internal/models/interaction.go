package models

import "time"

// Feedback values recorded on an Interaction.
const (
	FeedbackNone     = ""
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// Interaction is the audit record for one answered help request: the
// question asked, the answer served, and the feedback outcome.
type Interaction struct {
	ID        string `gorm:"primaryKey;size:36"`
	Platform  string `gorm:"size:16"`
	ChannelID string `gorm:"size:64;index"`
	ThreadID  string `gorm:"size:64"`
	UserID    string `gorm:"size:64;index"`
	UserName  string `gorm:"size:128"`
	Question  string `gorm:"type:text"`
	Answer    string `gorm:"type:mediumtext"`
	AnswerURL string `gorm:"size:512"`
	Feedback  string `gorm:"size:16"`
	Escalated bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
