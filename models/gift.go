package models

import (
	"time"
)

// GiftStatus is the lifecycle state of a gift.
type GiftStatus string

const (
	GiftStatusAwaitingFunding GiftStatus = "awaiting_funding"
	GiftStatusFunded          GiftStatus = "funded"
	GiftStatusPending         GiftStatus = "pending"
	GiftStatusSettled         GiftStatus = "settled"
)

const (
	ChargeStatusUnpaid = "unpaid"
	ChargeStatusPaid   = "paid"
)

// Valid reports whether s is one of the four lifecycle states.
func (s GiftStatus) Valid() bool {
	switch s {
	case GiftStatusAwaitingFunding, GiftStatusFunded, GiftStatusPending, GiftStatusSettled:
		return true
	}
	return false
}

type Gift struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Amount int64      `gorm:"not null" json:"amount"` // satoshis
	Status GiftStatus `gorm:"size:24;index;not null;default:'awaiting_funding'" json:"status"`

	ChargeID      string `gorm:"size:128;index;not null" json:"charge_id"`
	ChargeInvoice string `gorm:"type:text;not null" json:"charge_invoice"`

	// ClaimID is a fresh token per redemption claim. Writes made on behalf
	// of a claim are conditioned on it.
	ClaimID             string     `gorm:"size:64;index" json:"claim_id,omitempty"`
	WithdrawalInvoice   string     `gorm:"type:text" json:"withdrawal_invoice,omitempty"`
	WithdrawalID        string     `gorm:"size:128;index" json:"withdrawal_id,omitempty"`
	WithdrawalFee       int64      `gorm:"default:0" json:"withdrawal_fee"`
	WithdrawalError     string     `gorm:"type:text" json:"withdrawal_error,omitempty"`
	WithdrawalCreatedAt *time.Time `json:"withdrawal_created_at,omitempty"`

	VerifyCode    *int    `json:"verify_code,omitempty"`
	Notify        *string `gorm:"size:2048" json:"notify,omitempty"`
	SenderName    *string `gorm:"size:64" json:"sender_name,omitempty"`
	SenderMessage *string `gorm:"size:512" json:"sender_message,omitempty"`

	FundedAt  *time.Time `json:"funded_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// TableName overrides the table name
func (Gift) TableName() string {
	return "gifts"
}

// ChargeStatus projects the funding half of the lifecycle.
func (g *Gift) ChargeStatus() string {
	if g.Status == GiftStatusAwaitingFunding {
		return ChargeStatusUnpaid
	}
	return ChargeStatusPaid
}

// Spent projects the redemption half of the lifecycle as false, "pending" or true.
func (g *Gift) Spent() any {
	switch g.Status {
	case GiftStatusPending:
		return "pending"
	case GiftStatusSettled:
		return true
	default:
		return false
	}
}

// Redeemable reports whether a new redemption claim may be taken.
func (g *Gift) Redeemable() bool {
	return g.Status == GiftStatusFunded
}
