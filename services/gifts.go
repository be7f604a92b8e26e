package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/store"
	"github.com/yourusername/lightning-gifts/utils"
)

const (
	MinGiftAmount       = 100
	MaxGiftAmount       = 500000
	MaxSenderNameLen    = 15
	MaxSenderMessageLen = 100
)

// GiftStore is the persistence the lifecycle depends on. Every mutation
// after Create must go through ConditionalUpdate.
type GiftStore interface {
	Get(ctx context.Context, id string) (*models.Gift, error)
	GetByChargeID(ctx context.Context, chargeID string) (*models.Gift, error)
	GetByWithdrawalID(ctx context.Context, withdrawalID string) (*models.Gift, error)
	Create(ctx context.Context, gift *models.Gift) error
	ConditionalUpdate(ctx context.Context, id string, expect store.Expect, updates map[string]any) error
	ListByStatus(ctx context.Context, query store.ListQuery) ([]models.Gift, error)
}

type Options struct {
	// Gifts created before this instant redeem without their verify code.
	// Zero disables the exemption.
	VerifyCodeCutover time.Time
	Now               func() time.Time
}

type GiftService struct {
	store     GiftStore
	processor utils.ProcessorClientInterface
	notifier  Notifier
	cutover   time.Time
	now       func() time.Time
}

func NewGiftService(giftStore GiftStore, processor utils.ProcessorClientInterface, notifier Notifier, opts Options) *GiftService {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &GiftService{
		store:     giftStore,
		processor: processor,
		notifier:  notifier,
		cutover:   opts.VerifyCodeCutover,
		now:       now,
	}
}

type CreateGiftParams struct {
	Amount        float64
	SenderName    *string
	SenderMessage *string
	Notify        *string
	VerifyCode    *float64
	// Metadata is the LNURL-pay metadata; when set the invoice commits to
	// its hash instead of carrying a memo.
	Metadata string
}

// ValidateCreateGift checks creation input. The first failing rule wins.
func ValidateCreateGift(p CreateGiftParams) error {
	switch {
	case math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) || p.Amount != math.Trunc(p.Amount):
		return ErrAmountNotWholeNumber
	case p.Amount < MinGiftAmount:
		return ErrAmountUnder100
	case p.Amount > MaxGiftAmount:
		return ErrAmountOver500K
	case p.SenderName != nil && utf8.RuneCountInString(*p.SenderName) > MaxSenderNameLen:
		return ErrSenderNameBadLength
	case p.SenderMessage != nil && utf8.RuneCountInString(*p.SenderMessage) > MaxSenderMessageLen:
		return ErrSenderMessageBadLength
	case p.Notify != nil && !validNotifyURL(*p.Notify):
		return ErrNotifyBadURL
	case p.VerifyCode != nil && (math.IsNaN(*p.VerifyCode) || math.IsInf(*p.VerifyCode, 0)):
		return ErrVerifyCodeNotNumber
	case p.VerifyCode != nil && (*p.VerifyCode != math.Trunc(*p.VerifyCode) || *p.VerifyCode < 1000 || *p.VerifyCode > 9999):
		return ErrVerifyCodeBadLength
	}
	return nil
}

func validNotifyURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreateGift validates the request, asks the processor for a funding invoice
// and persists the gift. A gift whose invoice is already settled starts out
// funded.
func (s *GiftService) CreateGift(ctx context.Context, p CreateGiftParams) (*models.Gift, error) {
	if err := ValidateCreateGift(p); err != nil {
		return nil, err
	}

	giftID, err := newGiftID()
	if err != nil {
		return nil, err
	}
	amount := int64(p.Amount)

	req := utils.InvoiceRequest{GiftID: giftID, Amount: amount}
	if p.Metadata != "" {
		req.DescriptionHash = utils.DescriptionHash(p.Metadata)
	} else {
		req.Description = fmt.Sprintf("Lightning Gift for %d sats", amount)
	}

	invoice, err := s.processor.CreateInvoice(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessor, err)
	}
	if invoice.Amount != 0 && invoice.Amount != amount {
		return nil, fmt.Errorf("%w: invoice amount %d does not match requested %d", ErrProcessor, invoice.Amount, amount)
	}

	now := s.now()
	gift := &models.Gift{
		ID:            giftID,
		CreatedAt:     now,
		Amount:        amount,
		Status:        models.GiftStatusAwaitingFunding,
		ChargeID:      invoice.ChargeID,
		ChargeInvoice: invoice.PaymentRequest,
		Notify:        p.Notify,
		SenderName:    p.SenderName,
		SenderMessage: p.SenderMessage,
	}
	if p.VerifyCode != nil {
		code := int(*p.VerifyCode)
		gift.VerifyCode = &code
	}
	if invoice.Settled {
		gift.Status = models.GiftStatusFunded
		gift.FundedAt = &now
	}

	if err := s.store.Create(ctx, gift); err != nil {
		log.WithFields(log.Fields{"gift_id": giftID, "charge_id": invoice.ChargeID}).WithError(err).Error("invoice issued but gift not persisted")
		return nil, err
	}

	log.WithFields(log.Fields{
		"gift_id":   gift.ID,
		"charge_id": gift.ChargeID,
		"amount":    gift.Amount,
		"status":    gift.Status,
	}).Info("gift created")
	return gift, nil
}

// GiftView is the read-only projection of a gift. Locked is set when the
// gift has a verify code the caller did not supply.
type GiftView struct {
	Gift   *models.Gift
	Locked bool
}

func (s *GiftService) GetGift(ctx context.Context, giftID, verifyCode string) (*GiftView, error) {
	gift, err := s.load(ctx, giftID)
	if err != nil {
		return nil, err
	}
	locked := gift.VerifyCode != nil && !verifyCodeMatches(*gift.VerifyCode, verifyCode)
	return &GiftView{Gift: gift, Locked: locked}, nil
}

// ApplyFundingEvent marks the funding invoice paid. Repeated application is
// a no-op.
func (s *GiftService) ApplyFundingEvent(ctx context.Context, giftID string) error {
	now := s.now()
	err := s.store.ConditionalUpdate(ctx, giftID,
		store.Expect{Status: models.GiftStatusAwaitingFunding},
		map[string]any{"status": models.GiftStatusFunded, "funded_at": now},
	)
	logger := log.WithField("gift_id", giftID)
	switch {
	case err == nil:
		logger.Info("gift funded")
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrGiftNotFound
	case errors.Is(err, store.ErrConflict):
		logger.Debug("funding already applied")
		return nil
	default:
		return fmt.Errorf("failed to apply funding: %w", err)
	}
}

// RefreshFunding polls the processor for an unfunded gift's invoice and
// applies the funding event once it has settled.
func (s *GiftService) RefreshFunding(ctx context.Context, chargeID string) (*models.Gift, error) {
	gift, err := s.store.GetByChargeID(ctx, chargeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	if gift.Status != models.GiftStatusAwaitingFunding {
		return gift, nil
	}

	settled, err := s.processor.GetInvoiceStatus(ctx, chargeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessor, err)
	}
	if !settled {
		return gift, nil
	}
	if err := s.ApplyFundingEvent(ctx, gift.ID); err != nil {
		return nil, err
	}
	return s.load(ctx, gift.ID)
}

func (s *GiftService) load(ctx context.Context, giftID string) (*models.Gift, error) {
	gift, err := s.store.Get(ctx, giftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGiftNotFound
		}
		return nil, err
	}
	return gift, nil
}

func (s *GiftService) verifyCodeExempt(gift *models.Gift) bool {
	return !s.cutover.IsZero() && gift.CreatedAt.Before(s.cutover)
}

// verifyCodeMatches compares numerically, so "1234" and "1234.0" both match 1234.
func verifyCodeMatches(expected int, supplied string) bool {
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return false
	}
	n, err := strconv.ParseFloat(supplied, 64)
	if err != nil {
		return false
	}
	return n == float64(expected)
}

// newGiftID returns 192 random bits, hex encoded.
func newGiftID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate gift id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
