package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/store"
)

const (
	defaultPollBatchSize = 200
	defaultFundingWindow = 24 * time.Hour
	defaultClaimGrace    = time.Minute
	defaultStuckAfter    = time.Hour
)

// Poller periodically reconciles gifts whose webhooks may have been lost:
// pending withdrawals and recent unfunded gifts. Claims whose submit
// response was lost are looked up at the processor once they are older
// than claimGrace, and flagged for an operator after stuckAfter.
type Poller struct {
	gifts         *GiftService
	store         GiftStore
	interval      time.Duration
	fundingWindow time.Duration
	claimGrace    time.Duration
	stuckAfter    time.Duration
	batchSize     int
}

func NewPoller(gifts *GiftService, giftStore GiftStore, interval time.Duration) *Poller {
	if gifts == nil || giftStore == nil {
		return nil
	}
	return &Poller{
		gifts:         gifts,
		store:         giftStore,
		interval:      interval,
		fundingWindow: defaultFundingWindow,
		claimGrace:    defaultClaimGrace,
		stuckAfter:    defaultStuckAfter,
		batchSize:     defaultPollBatchSize,
	}
}

// PollSummary counts what one pass did.
type PollSummary struct {
	Withdrawals int
	Settled     int
	Reverted    int
	Funded      int
	Stuck       int
	Errors      int
}

// Start launches the poll loop in a background goroutine. A non-positive
// interval disables it.
func (p *Poller) Start(ctx context.Context) {
	if p == nil || p.interval <= 0 {
		return
	}
	go p.run(ctx)
	log.Infof("reconciliation poller started (interval=%s)", p.interval)
}

func (p *Poller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.PollOnce(ctx)
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// PollOnce runs a single pass over every pending and recently unfunded
// gift, a page at a time. Each gift is handled on its own; an error on one
// is logged and the pass continues.
func (p *Poller) PollOnce(ctx context.Context) PollSummary {
	var summary PollSummary

	err := p.eachPage(ctx, store.ListQuery{Status: models.GiftStatusPending}, func(gift *models.Gift) {
		p.pollWithdrawal(ctx, gift, &summary)
	})
	if err != nil {
		log.WithError(err).Error("failed to list pending gifts")
		summary.Errors++
	}

	since := p.gifts.now().Add(-p.fundingWindow)
	err = p.eachPage(ctx, store.ListQuery{Status: models.GiftStatusAwaitingFunding, Since: since}, func(gift *models.Gift) {
		updated, err := p.gifts.RefreshFunding(ctx, gift.ChargeID)
		if err != nil {
			log.WithField("gift_id", gift.ID).WithError(err).Warn("funding poll failed")
			summary.Errors++
			return
		}
		if updated.Status != models.GiftStatusAwaitingFunding {
			summary.Funded++
		}
	})
	if err != nil {
		log.WithError(err).Error("failed to list unfunded gifts")
		summary.Errors++
	}

	if summary != (PollSummary{}) {
		log.WithFields(log.Fields{
			"withdrawals": summary.Withdrawals,
			"settled":     summary.Settled,
			"reverted":    summary.Reverted,
			"funded":      summary.Funded,
			"stuck":       summary.Stuck,
			"errors":      summary.Errors,
		}).Info("reconciliation pass finished")
	}
	return summary
}

// eachPage calls fn for every gift matching q, batchSize rows per query.
func (p *Poller) eachPage(ctx context.Context, q store.ListQuery, fn func(gift *models.Gift)) error {
	q.Limit = p.batchSize
	for {
		page, err := p.store.ListByStatus(ctx, q)
		if err != nil {
			return err
		}
		for i := range page {
			if ctx.Err() != nil {
				return nil
			}
			fn(&page[i])
		}
		if len(page) == 0 || len(page) < q.Limit {
			return nil
		}
		q = q.Next(page)
	}
}

func (p *Poller) pollWithdrawal(ctx context.Context, gift *models.Gift, summary *PollSummary) {
	logger := log.WithField("gift_id", gift.ID)
	var claimAge time.Duration
	if gift.WithdrawalCreatedAt != nil {
		claimAge = p.gifts.now().Sub(*gift.WithdrawalCreatedAt)
	}
	if gift.WithdrawalID == "" && gift.WithdrawalCreatedAt != nil && claimAge < p.claimGrace {
		return
	}

	summary.Withdrawals++
	updated, err := p.gifts.PollRedemption(ctx, gift.ID)
	if err != nil {
		logger.WithError(err).Warn("withdrawal poll failed")
		summary.Errors++
		return
	}
	switch updated.Status {
	case models.GiftStatusSettled:
		summary.Settled++
	case models.GiftStatusFunded:
		summary.Reverted++
	case models.GiftStatusPending:
		if updated.WithdrawalID == "" && (gift.WithdrawalCreatedAt == nil || claimAge >= p.stuckAfter) {
			logger.WithField("claim_id", updated.ClaimID).Error("claim has no withdrawal at the processor, needs operator review")
			summary.Stuck++
		}
	}
}
