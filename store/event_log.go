package store

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/lightning-gifts/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormEventLog archives webhook deliveries in webhook_events.
type GormEventLog struct {
	db *gorm.DB
}

func NewGormEventLog(db *gorm.DB) *GormEventLog {
	return &GormEventLog{db: db}
}

// Record stores ev unless the same delivery was stored before, in which case
// ev is replaced by the stored row. processed reports whether that earlier
// delivery was applied successfully.
func (l *GormEventLog) Record(ctx context.Context, ev *models.WebhookEvent) (processed bool, err error) {
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return false, nil
	}

	var existing models.WebhookEvent
	if err := l.db.WithContext(ctx).
		Where("event_type = ? AND external_tx_id = ? AND settled = ?", ev.EventType, ev.ExternalTxID, ev.Settled).
		First(&existing).Error; err != nil {
		return false, fmt.Errorf("failed to load webhook event: %w", err)
	}
	*ev = existing
	return existing.ProcessedAt != nil && existing.ProcessingError == "", nil
}

// MarkProcessed records the outcome of applying an event.
func (l *GormEventLog) MarkProcessed(ctx context.Context, id uint, procErr error) error {
	updates := map[string]any{
		"processed_at":     time.Now().UTC(),
		"processing_error": "",
	}
	if procErr != nil {
		updates["processing_error"] = procErr.Error()
	}
	if err := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return nil
}
