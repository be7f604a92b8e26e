package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/store"
	"github.com/yourusername/lightning-gifts/utils"
)

const withdrawalFailedNote = "WITHDRAWAL_FAILED"

type ClaimRequest struct {
	GiftID     string
	Invoice    string
	VerifyCode string
}

type Claim struct {
	GiftID       string
	ClaimID      string
	WithdrawalID string
}

// Resolution is a processor-confirmed outcome of a withdrawal. It must name
// the claim or the withdrawal it resolves; a gift held by a different claim
// is left untouched.
type Resolution struct {
	GiftID       string
	ClaimID      string
	WithdrawalID string
	Settled      bool
	Fee          int64
	Reason       string
}

// expect matches the attempt res names. ClaimID wins when both are set
// because it is stored before the withdrawal is submitted.
func (res Resolution) expect(status models.GiftStatus) store.Expect {
	if res.ClaimID != "" {
		return store.Expect{Status: status, ClaimID: res.ClaimID}
	}
	return store.Expect{Status: status, WithdrawalID: res.WithdrawalID}
}

// ClaimRedemption validates a redemption request, takes the claim with a
// single conditional write and only then submits the withdrawal. At most one
// submission per claim reaches the processor.
func (s *GiftService) ClaimRedemption(ctx context.Context, req ClaimRequest) (*Claim, error) {
	gift, err := s.load(ctx, req.GiftID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRedeemable(gift, req); err != nil {
		return nil, err
	}

	claimID := uuid.NewString()
	err = s.store.ConditionalUpdate(ctx, gift.ID,
		store.Expect{Status: models.GiftStatusFunded},
		map[string]any{
			"status":                models.GiftStatusPending,
			"claim_id":              claimID,
			"withdrawal_invoice":    req.Invoice,
			"withdrawal_created_at": s.now(),
			"withdrawal_id":         "",
			"withdrawal_fee":        0,
			"withdrawal_error":      "",
		},
	)
	if err != nil {
		return nil, s.claimFailure(ctx, gift.ID, err)
	}

	logger := log.WithFields(log.Fields{"gift_id": gift.ID, "claim_id": claimID, "amount": gift.Amount})
	logger.Info("redemption claimed")

	// The claim is taken; follow-up writes must not be lost to a caller
	// that hung up.
	bg := context.WithoutCancel(ctx)

	withdrawalID, err := s.processor.SubmitWithdrawal(ctx, utils.WithdrawalRequest{
		GiftID:         gift.ID,
		ClaimID:        claimID,
		PaymentRequest: req.Invoice,
	})
	if err != nil {
		if errors.Is(err, utils.ErrOutcomeUnknown) {
			logger.WithError(err).Warn("withdrawal outcome unknown, claim left pending")
			return nil, fmt.Errorf("%w: %w", ErrWithdrawalOutcomeUnknown, err)
		}
		s.revertClaim(bg, gift.ID, claimID, err)
		return nil, fmt.Errorf("%w: %w", ErrProcessor, err)
	}

	s.recordWithdrawalID(bg, gift.ID, claimID, withdrawalID)
	logger.WithField("withdrawal_id", withdrawalID).Info("withdrawal submitted")
	return &Claim{GiftID: gift.ID, ClaimID: claimID, WithdrawalID: withdrawalID}, nil
}

// recordWithdrawalID stores the processor id of the claim's withdrawal. A
// claim that was resolved and superseded meanwhile keeps the newer state.
func (s *GiftService) recordWithdrawalID(ctx context.Context, giftID, claimID, withdrawalID string) {
	logger := log.WithFields(log.Fields{"gift_id": giftID, "claim_id": claimID, "withdrawal_id": withdrawalID})
	err := s.store.ConditionalUpdate(ctx, giftID,
		store.Expect{Status: models.GiftStatusPending, ClaimID: claimID},
		map[string]any{"withdrawal_id": withdrawalID},
	)
	switch {
	case errors.Is(err, store.ErrConflict):
		logger.Warn("claim already resolved, withdrawal id not recorded")
	case err != nil:
		logger.WithError(err).Error("failed to record withdrawal id")
	}
}

func (s *GiftService) checkRedeemable(gift *models.Gift, req ClaimRequest) error {
	amount, err := utils.DecodeInvoiceAmount(req.Invoice)
	if err != nil {
		return ErrMalformedInvoice
	}
	if amount != gift.Amount {
		return ErrBadInvoiceAmount
	}

	switch gift.Status {
	case models.GiftStatusPending:
		return ErrGiftRedeemPending
	case models.GiftStatusSettled:
		return ErrGiftSpent
	case models.GiftStatusAwaitingFunding:
		return ErrGiftInvoiceUnpaid
	}

	if gift.VerifyCode != nil && !s.verifyCodeExempt(gift) && !verifyCodeMatches(*gift.VerifyCode, req.VerifyCode) {
		return ErrBadVerifyCode
	}
	return nil
}

// claimFailure maps a lost claim race to the state the winner left behind.
func (s *GiftService) claimFailure(ctx context.Context, giftID string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrGiftNotFound
	case !errors.Is(err, store.ErrConflict):
		return fmt.Errorf("failed to claim gift: %w", err)
	}

	current, loadErr := s.load(ctx, giftID)
	if loadErr != nil {
		return ErrGiftRedeemPending
	}
	switch current.Status {
	case models.GiftStatusSettled:
		return ErrGiftSpent
	case models.GiftStatusAwaitingFunding:
		return ErrGiftInvoiceUnpaid
	default:
		return ErrGiftRedeemPending
	}
}

func (s *GiftService) revertClaim(ctx context.Context, giftID, claimID string, cause error) {
	logger := log.WithFields(log.Fields{"gift_id": giftID, "claim_id": claimID}).WithError(cause)
	err := s.store.ConditionalUpdate(ctx, giftID,
		store.Expect{Status: models.GiftStatusPending, ClaimID: claimID},
		map[string]any{"status": models.GiftStatusFunded, "withdrawal_error": cause.Error()},
	)
	if err != nil {
		logger.WithField("revert_error", err.Error()).Error("failed to revert rejected claim")
		return
	}
	logger.Warn("withdrawal rejected, claim reverted")
}

// ResolveRedemption applies a confirmed withdrawal outcome. Duplicate
// resolutions are no-ops; only the caller that moves the gift to settled
// triggers the notification.
func (s *GiftService) ResolveRedemption(ctx context.Context, res Resolution) error {
	if res.ClaimID == "" && res.WithdrawalID == "" {
		log.WithField("gift_id", res.GiftID).Warn("resolution names no claim or withdrawal, ignored")
		return ErrStaleWithdrawal
	}
	if res.Settled {
		return s.settle(ctx, res)
	}
	return s.fail(ctx, res)
}

func (s *GiftService) settle(ctx context.Context, res Resolution) error {
	logger := log.WithFields(log.Fields{"gift_id": res.GiftID, "claim_id": res.ClaimID, "withdrawal_id": res.WithdrawalID})
	updates := map[string]any{
		"status":         models.GiftStatusSettled,
		"withdrawal_fee": res.Fee,
		"settled_at":     s.now(),
	}
	if res.WithdrawalID != "" {
		updates["withdrawal_id"] = res.WithdrawalID
	}

	err := s.store.ConditionalUpdate(ctx, res.GiftID, res.expect(models.GiftStatusPending), updates)
	if errors.Is(err, store.ErrConflict) {
		current, loadErr := s.load(ctx, res.GiftID)
		if loadErr != nil {
			return loadErr
		}
		switch current.Status {
		case models.GiftStatusSettled:
			logger.Debug("settlement already applied")
			return nil
		case models.GiftStatusPending:
			logger.WithField("pending_withdrawal_id", current.WithdrawalID).Warn("settlement for a superseded withdrawal ignored")
			return ErrStaleWithdrawal
		case models.GiftStatusFunded:
			// Money left the wallet for a claim that was reverted; close
			// the gift rather than leave it redeemable a second time.
			logger.Error("settlement confirmed for a reverted claim")
			err = s.store.ConditionalUpdate(ctx, res.GiftID, res.expect(models.GiftStatusFunded), updates)
			if errors.Is(err, store.ErrConflict) {
				return ErrGiftNotPending
			}
		default:
			return ErrGiftNotPending
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrGiftNotFound
		}
		return fmt.Errorf("failed to settle gift: %w", err)
	}

	logger.WithField("fee", res.Fee).Info("redemption settled")
	if gift, loadErr := s.load(ctx, res.GiftID); loadErr == nil {
		s.notifier.GiftSettled(*gift)
	} else {
		logger.WithError(loadErr).Warn("settled gift not reloaded, notification skipped")
	}
	return nil
}

func (s *GiftService) fail(ctx context.Context, res Resolution) error {
	logger := log.WithFields(log.Fields{"gift_id": res.GiftID, "claim_id": res.ClaimID, "withdrawal_id": res.WithdrawalID})
	reason := res.Reason
	if reason == "" {
		reason = withdrawalFailedNote
	}

	err := s.store.ConditionalUpdate(ctx, res.GiftID, res.expect(models.GiftStatusPending),
		map[string]any{"status": models.GiftStatusFunded, "withdrawal_error": reason},
	)
	switch {
	case err == nil:
		logger.WithField("reason", reason).Warn("redemption failed, gift redeemable again")
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrGiftNotFound
	case !errors.Is(err, store.ErrConflict):
		return fmt.Errorf("failed to revert gift: %w", err)
	}

	current, loadErr := s.load(ctx, res.GiftID)
	if loadErr != nil {
		return loadErr
	}
	switch current.Status {
	case models.GiftStatusPending:
		logger.WithField("pending_withdrawal_id", current.WithdrawalID).Warn("failure for a superseded withdrawal ignored")
		return ErrStaleWithdrawal
	case models.GiftStatusSettled:
		logger.Warn("failure reported for a settled gift ignored")
		return nil
	default:
		logger.Debug("failure already applied")
		return nil
	}
}

// PollRedemption asks the processor about a pending gift's withdrawal and
// resolves it when the outcome is final. A claim whose withdrawal id was
// never recorded is looked up by its claim id first.
func (s *GiftService) PollRedemption(ctx context.Context, giftID string) (*models.Gift, error) {
	gift, err := s.load(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if gift.Status != models.GiftStatusPending {
		return gift, nil
	}
	if gift.WithdrawalID == "" {
		found, err := s.findWithdrawal(ctx, gift)
		if err != nil {
			return nil, err
		}
		if !found {
			return gift, nil
		}
	}

	status, err := s.processor.GetWithdrawalStatus(ctx, gift.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessor, err)
	}

	res := Resolution{GiftID: gift.ID, ClaimID: gift.ClaimID, WithdrawalID: gift.WithdrawalID, Fee: status.Fee}
	switch status.State {
	case utils.WithdrawalStateSettled:
		res.Settled = true
	case utils.WithdrawalStateFailed:
		res.Reason = withdrawalFailedNote
	default:
		return gift, nil
	}
	if err := s.ResolveRedemption(ctx, res); err != nil && KindOf(err) != KindConflict {
		return nil, err
	}
	return s.load(ctx, gift.ID)
}

// findWithdrawal recovers the withdrawal id of a claim whose submit
// response was lost and records it on gift.
func (s *GiftService) findWithdrawal(ctx context.Context, gift *models.Gift) (bool, error) {
	if gift.ClaimID == "" {
		return false, nil
	}
	withdrawalID, err := s.processor.FindWithdrawal(ctx, gift.ID, gift.ClaimID)
	if errors.Is(err, utils.ErrWithdrawalNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProcessor, err)
	}
	s.recordWithdrawalID(ctx, gift.ID, gift.ClaimID, withdrawalID)
	gift.WithdrawalID = withdrawalID
	return true, nil
}

// RedeemStatus resolves a withdrawal by its processor id.
func (s *GiftService) RedeemStatus(ctx context.Context, withdrawalID string) (*models.Gift, error) {
	gift, err := s.store.GetByWithdrawalID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return s.PollRedemption(ctx, gift.ID)
}
