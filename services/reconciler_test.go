package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/store"
)

func newTestReconciler(env *testEnv) *Reconciler {
	return NewReconciler(env.service, store.NewGormEventLog(env.db), "wal_1")
}

func countEvents(t *testing.T, env *testEnv) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.WebhookEvent{}).Count(&n).Error)
	return n
}

func TestReconcilerFunding(t *testing.T) {
	env := newTestEnv(t)
	r := newTestReconciler(env)
	env.seedGift(t, "g1", models.GiftStatusAwaitingFunding, 1000)

	ev := WebhookEvent{
		Type:         models.WebhookEventFundingReceived,
		WalletID:     "wal_1",
		GiftID:       "g1",
		ExternalTxID: "lntx_1",
		Settled:      true,
		Amount:       1000,
		Payload:      []byte(`{"event":{"name":"wallet_receive"}}`),
	}
	require.NoError(t, r.Handle(context.Background(), ev))
	assert.Equal(t, models.GiftStatusFunded, env.reload(t, "g1").Status)

	// redelivery
	require.NoError(t, r.Handle(context.Background(), ev))
	assert.Equal(t, int64(1), countEvents(t, env))

	var stored models.WebhookEvent
	require.NoError(t, env.db.First(&stored).Error)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Empty(t, stored.ProcessingError)
	assert.Equal(t, "g1", stored.GiftID)
}

func TestReconcilerIgnoresForeignAndUnknownEvents(t *testing.T) {
	env := newTestEnv(t)
	r := newTestReconciler(env)
	env.seedGift(t, "g1", models.GiftStatusAwaitingFunding, 1000)

	tests := []struct {
		name string
		ev   WebhookEvent
	}{
		{name: "Other Wallet", ev: WebhookEvent{Type: models.WebhookEventFundingReceived, WalletID: "wal_other", GiftID: "g1"}},
		{name: "Unknown Type", ev: WebhookEvent{Type: "wallet_transfer_in", WalletID: "wal_1", GiftID: "g1"}},
		{name: "No Gift", ev: WebhookEvent{Type: models.WebhookEventFundingReceived, WalletID: "wal_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, r.Handle(context.Background(), tt.ev))
		})
	}

	assert.Equal(t, models.GiftStatusAwaitingFunding, env.reload(t, "g1").Status)
	assert.Zero(t, countEvents(t, env))
}

func TestReconcilerWithdrawalOutcomes(t *testing.T) {
	env := newTestEnv(t)
	r := newTestReconciler(env)
	ctx := context.Background()
	pendingGift(t, env, "g1", "")

	// a transaction id alone cannot be matched to a claim with no recorded id
	require.NoError(t, r.Handle(ctx, WebhookEvent{
		Type: models.WebhookEventWithdrawalSent, WalletID: "wal_1", GiftID: "g1",
		ExternalTxID: "wd-0", Settled: false, Payload: []byte(`{}`),
	}))
	assert.Equal(t, models.GiftStatusPending, env.reload(t, "g1").Status)

	// failure carrying the claim reverts it
	require.NoError(t, r.Handle(ctx, WebhookEvent{
		Type: models.WebhookEventWithdrawalSent, WalletID: "wal_1", GiftID: "g1", ClaimID: "claim-g1",
		ExternalTxID: "wd-1", Settled: false, Payload: []byte(`{}`),
	}))
	assert.Equal(t, models.GiftStatusFunded, env.reload(t, "g1").Status)

	// a second claim is taken and settles
	_, err := env.service.ClaimRedemption(ctx, ClaimRequest{GiftID: "g1", Invoice: invoice1000})
	require.NoError(t, err)
	withdrawalID := env.reload(t, "g1").WithdrawalID
	require.NotEmpty(t, withdrawalID)

	require.NoError(t, r.Handle(ctx, WebhookEvent{
		Type: models.WebhookEventWithdrawalSent, WalletID: "wal_1", GiftID: "g1",
		ExternalTxID: withdrawalID, Settled: true, Fee: 1, Payload: []byte(`{}`),
	}))
	gift := env.reload(t, "g1")
	assert.Equal(t, models.GiftStatusSettled, gift.Status)
	assert.Equal(t, int64(1), gift.WithdrawalFee)

	// the old failure redelivered does not reopen the gift
	require.NoError(t, r.Handle(ctx, WebhookEvent{
		Type: models.WebhookEventWithdrawalSent, WalletID: "wal_1", GiftID: "g1", ClaimID: "claim-g1",
		ExternalTxID: "wd-1", Settled: false, Payload: []byte(`{}`),
	}))
	assert.Equal(t, models.GiftStatusSettled, env.reload(t, "g1").Status)
	assert.Equal(t, 1, env.notifier.count())
}

func TestReconcilerUnknownGiftAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	r := newTestReconciler(env)

	err := r.Handle(context.Background(), WebhookEvent{
		Type: models.WebhookEventFundingReceived, WalletID: "wal_1", GiftID: "missing",
		ExternalTxID: "lntx_9", Settled: true, Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	var stored models.WebhookEvent
	require.NoError(t, env.db.First(&stored).Error)
	assert.Equal(t, "GIFT_NOT_FOUND", stored.ProcessingError)
}

type failingEventLog struct{}

func (failingEventLog) Record(context.Context, *models.WebhookEvent) (bool, error) {
	return false, errors.New("database is locked")
}

func (failingEventLog) MarkProcessed(context.Context, uint, error) error { return nil }

func TestReconcilerSurfacesInfrastructureErrors(t *testing.T) {
	env := newTestEnv(t)
	r := NewReconciler(env.service, failingEventLog{}, "wal_1")
	env.seedGift(t, "g1", models.GiftStatusAwaitingFunding, 1000)

	err := r.Handle(context.Background(), WebhookEvent{
		Type: models.WebhookEventFundingReceived, WalletID: "wal_1", GiftID: "g1", ExternalTxID: "lntx_1",
	})
	assert.Error(t, err)
	assert.Equal(t, models.GiftStatusAwaitingFunding, env.reload(t, "g1").Status)
}
