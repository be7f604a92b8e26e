package services

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/models"
)

// WebhookEvent is a processor notification reduced to the fields the
// lifecycle needs.
type WebhookEvent struct {
	Type         string
	WalletID     string
	GiftID       string
	ClaimID      string
	ExternalTxID string
	Settled      bool
	Amount       int64
	Fee          int64
	Payload      []byte
}

// EventLog archives webhook deliveries so a redelivery of an already applied
// event can be acknowledged without touching the gift again.
type EventLog interface {
	Record(ctx context.Context, ev *models.WebhookEvent) (processed bool, err error)
	MarkProcessed(ctx context.Context, id uint, procErr error) error
}

type Reconciler struct {
	gifts    *GiftService
	events   EventLog
	walletID string
}

func NewReconciler(gifts *GiftService, events EventLog, walletID string) *Reconciler {
	return &Reconciler{gifts: gifts, events: events, walletID: walletID}
}

// Handle applies one webhook delivery. Events for other wallets, unknown
// event types and events that cannot apply to the gift are acknowledged
// (nil); only infrastructure errors are returned, so the processor retries.
func (r *Reconciler) Handle(ctx context.Context, ev WebhookEvent) error {
	logger := log.WithFields(log.Fields{
		"event":   ev.Type,
		"gift_id":  ev.GiftID,
		"claim_id": ev.ClaimID,
		"tx_id":    ev.ExternalTxID,
	})

	if ev.WalletID != r.walletID {
		logger.WithField("wallet_id", ev.WalletID).Debug("webhook for another wallet discarded")
		return nil
	}
	if ev.Type != models.WebhookEventFundingReceived && ev.Type != models.WebhookEventWithdrawalSent {
		logger.Debug("webhook event type ignored")
		return nil
	}
	if ev.GiftID == "" {
		logger.Warn("webhook without gift id ignored")
		return nil
	}

	record := &models.WebhookEvent{
		EventType:    ev.Type,
		ExternalTxID: ev.ExternalTxID,
		Settled:      ev.Settled,
		WalletID:     ev.WalletID,
		GiftID:       ev.GiftID,
		Amount:       ev.Amount,
		Payload:      ev.Payload,
	}
	switch {
	case record.ExternalTxID != "":
	case ev.ClaimID != "":
		record.ExternalTxID = "claim:" + ev.ClaimID
	default:
		record.ExternalTxID = "gift:" + ev.GiftID
	}

	processed, err := r.events.Record(ctx, record)
	if err != nil {
		return err
	}
	if processed {
		logger.Debug("webhook redelivery acknowledged")
		return nil
	}

	applyErr := r.apply(ctx, ev)
	if markErr := r.events.MarkProcessed(ctx, record.ID, applyErr); markErr != nil {
		logger.WithError(markErr).Error("webhook outcome not recorded")
	}

	switch KindOf(applyErr) {
	case 0:
		if applyErr != nil {
			return fmt.Errorf("failed to apply webhook: %w", applyErr)
		}
		return nil
	case KindNotFound, KindConflict:
		logger.WithError(applyErr).Warn("webhook not applicable")
		return nil
	default:
		return applyErr
	}
}

func (r *Reconciler) apply(ctx context.Context, ev WebhookEvent) error {
	switch ev.Type {
	case models.WebhookEventFundingReceived:
		return r.gifts.ApplyFundingEvent(ctx, ev.GiftID)
	default:
		return r.gifts.ResolveRedemption(ctx, Resolution{
			GiftID:       ev.GiftID,
			ClaimID:      ev.ClaimID,
			WithdrawalID: ev.ExternalTxID,
			Settled:      ev.Settled,
			Fee:          ev.Fee,
			Reason:       withdrawalFailedNote,
		})
	}
}
