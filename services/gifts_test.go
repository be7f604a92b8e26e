package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/utils"
)

func TestValidateCreateGift(t *testing.T) {
	tests := []struct {
		name     string
		params   CreateGiftParams
		expected error
	}{
		{name: "Minimal Valid", params: CreateGiftParams{Amount: 100}},
		{name: "Maximal Valid", params: CreateGiftParams{
			Amount:        500000,
			SenderName:    strPtr(strings.Repeat("a", 15)),
			SenderMessage: strPtr(strings.Repeat("b", 100)),
			Notify:        strPtr("https://example.com/hook"),
			VerifyCode:    floatPtr(9999),
		}},
		{name: "Fractional Amount", params: CreateGiftParams{Amount: 100.5}, expected: ErrAmountNotWholeNumber},
		{name: "NaN Amount", params: CreateGiftParams{Amount: math.NaN()}, expected: ErrAmountNotWholeNumber},
		{name: "Under Minimum", params: CreateGiftParams{Amount: 99}, expected: ErrAmountUnder100},
		{name: "Over Maximum", params: CreateGiftParams{Amount: 500001}, expected: ErrAmountOver500K},
		{name: "Long Sender Name", params: CreateGiftParams{Amount: 100, SenderName: strPtr(strings.Repeat("a", 16))}, expected: ErrSenderNameBadLength},
		{name: "Multibyte Sender Name Fits", params: CreateGiftParams{Amount: 100, SenderName: strPtr(strings.Repeat("é", 15))}},
		{name: "Long Sender Message", params: CreateGiftParams{Amount: 100, SenderMessage: strPtr(strings.Repeat("b", 101))}, expected: ErrSenderMessageBadLength},
		{name: "Relative Notify", params: CreateGiftParams{Amount: 100, Notify: strPtr("/hook")}, expected: ErrNotifyBadURL},
		{name: "Non Http Notify", params: CreateGiftParams{Amount: 100, Notify: strPtr("ftp://example.com")}, expected: ErrNotifyBadURL},
		{name: "Three Digit Code", params: CreateGiftParams{Amount: 100, VerifyCode: floatPtr(999)}, expected: ErrVerifyCodeBadLength},
		{name: "Five Digit Code", params: CreateGiftParams{Amount: 100, VerifyCode: floatPtr(10000)}, expected: ErrVerifyCodeBadLength},
		{name: "Fractional Code", params: CreateGiftParams{Amount: 100, VerifyCode: floatPtr(1234.5)}, expected: ErrVerifyCodeBadLength},
		{name: "Infinite Code", params: CreateGiftParams{Amount: 100, VerifyCode: floatPtr(math.Inf(1))}, expected: ErrVerifyCodeNotNumber},
		{name: "First Failure Wins", params: CreateGiftParams{Amount: 50, SenderName: strPtr(strings.Repeat("a", 16))}, expected: ErrAmountUnder100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreateGift(tt.params)
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestCreateGift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var seen utils.InvoiceRequest
	env.processor.CreateInvoiceFunc = func(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error) {
		seen = req
		return &utils.Invoice{ChargeID: "lntx_1", PaymentRequest: "lnbc10u1funding", Amount: req.Amount}, nil
	}

	gift, err := env.service.CreateGift(ctx, CreateGiftParams{
		Amount:     1000,
		SenderName: strPtr("alice"),
		VerifyCode: floatPtr(1234),
	})
	require.NoError(t, err)

	assert.Len(t, gift.ID, 48)
	assert.Equal(t, models.GiftStatusAwaitingFunding, gift.Status)
	assert.Equal(t, models.ChargeStatusUnpaid, gift.ChargeStatus())
	assert.Equal(t, false, gift.Spent())
	require.NotNil(t, gift.VerifyCode)
	assert.Equal(t, 1234, *gift.VerifyCode)
	assert.Equal(t, "Lightning Gift for 1000 sats", seen.Description)
	assert.Empty(t, seen.DescriptionHash)
	assert.Equal(t, gift.ID, seen.GiftID)

	stored := env.reload(t, gift.ID)
	assert.Equal(t, "lntx_1", stored.ChargeID)
	assert.Equal(t, "alice", *stored.SenderName)
}

func TestCreateGiftWithMetadataCommitsToHash(t *testing.T) {
	env := newTestEnv(t)

	var seen utils.InvoiceRequest
	env.processor.CreateInvoiceFunc = func(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error) {
		seen = req
		return &utils.Invoice{ChargeID: "lntx_1", PaymentRequest: "lnbc1u1funding", Amount: req.Amount, Settled: true}, nil
	}

	metadata := `[["text/plain","Create a Lightning Gift."]]`
	gift, err := env.service.CreateGift(context.Background(), CreateGiftParams{Amount: 100, Metadata: metadata})
	require.NoError(t, err)

	assert.Equal(t, utils.DescriptionHash(metadata), seen.DescriptionHash)
	assert.Empty(t, seen.Description)
	// already settled at creation
	assert.Equal(t, models.GiftStatusFunded, gift.Status)
	assert.NotNil(t, gift.FundedAt)
}

func TestCreateGiftFailures(t *testing.T) {
	t.Run("Validation Stops Before Processor", func(t *testing.T) {
		env := newTestEnv(t)
		called := false
		env.processor.CreateInvoiceFunc = func(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error) {
			called = true
			return nil, errors.New("unexpected")
		}
		_, err := env.service.CreateGift(context.Background(), CreateGiftParams{Amount: 10})
		assert.ErrorIs(t, err, ErrAmountUnder100)
		assert.False(t, called)
	})

	t.Run("Processor Error", func(t *testing.T) {
		env := newTestEnv(t)
		env.processor.CreateInvoiceFunc = func(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error) {
			return nil, &utils.ProcessorError{StatusCode: 401, Message: "bad key"}
		}
		_, err := env.service.CreateGift(context.Background(), CreateGiftParams{Amount: 100})
		assert.ErrorIs(t, err, ErrProcessor)
		assert.Equal(t, KindProcessor, KindOf(err))
	})

	t.Run("Invoice Amount Mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		env.processor.CreateInvoiceFunc = func(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error) {
			return &utils.Invoice{ChargeID: "lntx_1", PaymentRequest: "lnbc1u1funding", Amount: req.Amount + 1}, nil
		}
		_, err := env.service.CreateGift(context.Background(), CreateGiftParams{Amount: 100})
		assert.ErrorIs(t, err, ErrProcessor)

		var count int64
		require.NoError(t, env.db.Model(&models.Gift{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestGetGiftLocking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	locked := env.seedGift(t, "locked-gift", models.GiftStatusFunded, 1000)
	require.NoError(t, env.db.Model(locked).Update("verify_code", 1234).Error)
	env.seedGift(t, "open-gift", models.GiftStatusFunded, 1000)

	view, err := env.service.GetGift(ctx, "locked-gift", "")
	require.NoError(t, err)
	assert.True(t, view.Locked)

	view, err = env.service.GetGift(ctx, "locked-gift", "4321")
	require.NoError(t, err)
	assert.True(t, view.Locked)

	view, err = env.service.GetGift(ctx, "locked-gift", "1234.0")
	require.NoError(t, err)
	assert.False(t, view.Locked)

	view, err = env.service.GetGift(ctx, "open-gift", "")
	require.NoError(t, err)
	assert.False(t, view.Locked)

	_, err = env.service.GetGift(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrGiftNotFound)
}

func TestApplyFundingEventIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedGift(t, "g1", models.GiftStatusAwaitingFunding, 1000)

	require.NoError(t, env.service.ApplyFundingEvent(ctx, "g1"))
	first := env.reload(t, "g1")
	assert.Equal(t, models.GiftStatusFunded, first.Status)
	require.NotNil(t, first.FundedAt)

	env.now = env.now.Add(1)
	require.NoError(t, env.service.ApplyFundingEvent(ctx, "g1"))
	second := env.reload(t, "g1")
	assert.Equal(t, models.GiftStatusFunded, second.Status)
	assert.True(t, first.FundedAt.Equal(*second.FundedAt))

	assert.ErrorIs(t, env.service.ApplyFundingEvent(ctx, "missing"), ErrGiftNotFound)
}

func TestFundingNeverRegressesRedemption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedGift(t, "g1", models.GiftStatusSettled, 1000)

	require.NoError(t, env.service.ApplyFundingEvent(ctx, "g1"))
	assert.Equal(t, models.GiftStatusSettled, env.reload(t, "g1").Status)
}

func TestRefreshFunding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedGift(t, "g1", models.GiftStatusAwaitingFunding, 1000)

	settled := false
	env.processor.GetInvoiceStatusFunc = func(ctx context.Context, chargeID string) (bool, error) {
		assert.Equal(t, "charge-g1", chargeID)
		return settled, nil
	}

	gift, err := env.service.RefreshFunding(ctx, "charge-g1")
	require.NoError(t, err)
	assert.Equal(t, models.GiftStatusAwaitingFunding, gift.Status)

	settled = true
	gift, err = env.service.RefreshFunding(ctx, "charge-g1")
	require.NoError(t, err)
	assert.Equal(t, models.GiftStatusFunded, gift.Status)

	_, err = env.service.RefreshFunding(ctx, "charge-missing")
	assert.ErrorIs(t, err, ErrChargeNotFound)
}

func TestVerifyCodeMatches(t *testing.T) {
	assert.True(t, verifyCodeMatches(1234, "1234"))
	assert.True(t, verifyCodeMatches(1234, " 1234 "))
	assert.True(t, verifyCodeMatches(1234, "1234.0"))
	assert.False(t, verifyCodeMatches(1234, ""))
	assert.False(t, verifyCodeMatches(1234, "abcd"))
	assert.False(t, verifyCodeMatches(1234, "1235"))
}
