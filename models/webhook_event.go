package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	WebhookEventFundingReceived = "wallet_receive"
	WebhookEventWithdrawalSent  = "wallet_send"
)

// WebhookEvent archives a processor webhook delivery. The unique index makes
// redeliveries of the same event collapse onto one row.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	EventType       string         `gorm:"size:64;not null;uniqueIndex:ux_webhook_events_delivery,priority:1" json:"event_type"`
	ExternalTxID    string         `gorm:"size:128;not null;default:'';uniqueIndex:ux_webhook_events_delivery,priority:2" json:"external_tx_id"`
	Settled         bool           `gorm:"not null;default:false;uniqueIndex:ux_webhook_events_delivery,priority:3" json:"settled"`
	WalletID        string         `gorm:"size:128;not null" json:"wallet_id"`
	GiftID          string         `gorm:"size:64;index" json:"gift_id"`
	Amount          int64          `json:"amount"`
	Payload         datatypes.JSON `json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
