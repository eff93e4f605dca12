// Package ledger records the audit trail of help interactions, duration
// alerts, and escalations. It is write-mostly: workflow state lives in
// memory, the ledger is for history, digests, and the log command.
package ledger

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Interaction{},
		&models.AlertEvent{},
		&models.EscalationEvent{},
	}
}

// AutoMigrate creates or updates all ledger tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("ledger: auto-migrate: %w", err)
	}
	return nil
}

// AppendInteraction records a newly answered help request.
func AppendInteraction(db *gorm.DB, in *models.Interaction) error {
	if in.ID == "" {
		return fmt.Errorf("ledger: interaction ID is required")
	}
	if in.UserID == "" {
		return fmt.Errorf("ledger: interaction user ID is required")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	if err := db.Create(in).Error; err != nil {
		return fmt.Errorf("ledger: append interaction %s: %w", in.ID, err)
	}
	return nil
}

// SetFeedback records the feedback outcome for an interaction. The first
// recorded feedback wins; later attempts report no rows and are ignored
// by callers that already dedup at the workflow layer.
func SetFeedback(db *gorm.DB, interactionID, feedback string) error {
	result := db.Model(&models.Interaction{}).
		Where("id = ? AND feedback = ?", interactionID, models.FeedbackNone).
		Update("feedback", feedback)
	if result.Error != nil {
		return fmt.Errorf("ledger: set feedback %s: %w", interactionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger: interaction not found or feedback already set: %s", interactionID)
	}
	return nil
}

// MarkEscalated flags an interaction as having produced an escalation.
func MarkEscalated(db *gorm.DB, interactionID string) error {
	result := db.Model(&models.Interaction{}).Where("id = ?", interactionID).
		Update("escalated", true)
	if result.Error != nil {
		return fmt.Errorf("ledger: mark escalated %s: %w", interactionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger: interaction not found: %s", interactionID)
	}
	return nil
}

// RecordAlert records a newly raised duration alert.
func RecordAlert(db *gorm.DB, ev *models.AlertEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("ledger: alert ID is required")
	}
	if ev.AgentID == "" {
		return fmt.Errorf("ledger: alert agent ID is required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if err := db.Create(ev).Error; err != nil {
		return fmt.Errorf("ledger: record alert %s: %w", ev.ID, err)
	}
	return nil
}

// AcknowledgeAlert records who acknowledged an alert and when.
func AcknowledgeAlert(db *gorm.DB, alertID, userID string, at time.Time) error {
	result := db.Model(&models.AlertEvent{}).
		Where("id = ? AND acknowledged_by = ?", alertID, "").
		Updates(map[string]interface{}{
			"acknowledged_by": userID,
			"acknowledged_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("ledger: acknowledge alert %s: %w", alertID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger: alert not found or already acknowledged: %s", alertID)
	}
	return nil
}

// RecordEscalation records a newly posted escalation.
func RecordEscalation(db *gorm.DB, ev *models.EscalationEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("ledger: escalation ID is required")
	}
	if ev.Status == "" {
		ev.Status = models.EscalationPosted
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if err := db.Create(ev).Error; err != nil {
		return fmt.Errorf("ledger: record escalation %s: %w", ev.ID, err)
	}
	return nil
}

// AcceptEscalation records who accepted an escalation and when.
func AcceptEscalation(db *gorm.DB, escalationID, userID string, at time.Time) error {
	result := db.Model(&models.EscalationEvent{}).
		Where("id = ? AND status = ?", escalationID, models.EscalationPosted).
		Updates(map[string]interface{}{
			"status":      models.EscalationAccepted,
			"accepted_by": userID,
			"accepted_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("ledger: accept escalation %s: %w", escalationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger: escalation not found or not posted: %s", escalationID)
	}
	return nil
}

// ResolveEscalation records the resolution of an accepted escalation.
func ResolveEscalation(db *gorm.DB, escalationID string, at time.Time) error {
	result := db.Model(&models.EscalationEvent{}).
		Where("id = ? AND status = ?", escalationID, models.EscalationAccepted).
		Updates(map[string]interface{}{
			"status":      models.EscalationResolved,
			"resolved_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("ledger: resolve escalation %s: %w", escalationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger: escalation not found or not accepted: %s", escalationID)
	}
	return nil
}

// RecentInteractions returns the most recent interactions, newest first.
func RecentInteractions(db *gorm.DB, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.Interaction
	if err := db.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: recent interactions: %w", err)
	}
	return out, nil
}

// DigestCounts summarizes ledger activity since a point in time.
type DigestCounts struct {
	Interactions      int64
	PositiveFeedback  int64
	NegativeFeedback  int64
	Alerts            int64
	Escalations       int64
	EscalationsOpen   int64
}

// CountsSince computes digest counters over records created after since.
func CountsSince(db *gorm.DB, since time.Time) (DigestCounts, error) {
	var c DigestCounts

	type q struct {
		dest  *int64
		model interface{}
		where string
		args  []interface{}
	}
	queries := []q{
		{&c.Interactions, &models.Interaction{}, "created_at > ?", []interface{}{since}},
		{&c.PositiveFeedback, &models.Interaction{}, "created_at > ? AND feedback = ?", []interface{}{since, models.FeedbackPositive}},
		{&c.NegativeFeedback, &models.Interaction{}, "created_at > ? AND feedback = ?", []interface{}{since, models.FeedbackNegative}},
		{&c.Alerts, &models.AlertEvent{}, "created_at > ?", []interface{}{since}},
		{&c.Escalations, &models.EscalationEvent{}, "created_at > ?", []interface{}{since}},
		{&c.EscalationsOpen, &models.EscalationEvent{}, "created_at > ? AND status <> ?", []interface{}{since, models.EscalationResolved}},
	}
	for _, query := range queries {
		if err := db.Model(query.model).Where(query.where, query.args...).Count(query.dest).Error; err != nil {
			return DigestCounts{}, fmt.Errorf("ledger: digest counts: %w", err)
		}
	}
	return c, nil
}
