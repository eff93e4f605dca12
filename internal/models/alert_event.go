package models

import "time"

// AlertEvent is the audit record for one duration alert raised against an
// agent, including who acknowledged it and when.
type AlertEvent struct {
	ID             string `gorm:"primaryKey;size:36"`
	AgentID        string `gorm:"size:64;index"`
	AgentName      string `gorm:"size:128"`
	Status         string `gorm:"size:32"`
	DurationSecs   int64
	ChannelID      string `gorm:"size:64"`
	MessageID      string `gorm:"size:64"`
	AcknowledgedBy string `gorm:"size:64"`
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}
