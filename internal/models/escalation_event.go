package models

import "time"

// Escalation status values recorded on an EscalationEvent.
const (
	EscalationPosted   = "posted"
	EscalationAccepted = "accepted"
	EscalationResolved = "resolved"
)

// EscalationEvent is the audit record for one escalation raised from
// negative feedback: who asked, who accepted, and how it ended.
type EscalationEvent struct {
	ID            string `gorm:"primaryKey;size:36"`
	InteractionID string `gorm:"size:36;index"`
	RequesterID   string `gorm:"size:64"`
	RequesterName string `gorm:"size:128"`
	Question      string `gorm:"type:text"`
	Status        string `gorm:"size:16;index"`
	AcceptedBy    string `gorm:"size:64"`
	AcceptedAt    *time.Time
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
