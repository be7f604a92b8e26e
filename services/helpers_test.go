package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/lightning-gifts/models"
	"github.com/yourusername/lightning-gifts/store"
	"github.com/yourusername/lightning-gifts/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Gift{}, &models.WebhookEvent{}))
	return db
}

type MockProcessorClient struct {
	CreateInvoiceFunc       func(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error)
	GetInvoiceStatusFunc    func(ctx context.Context, chargeID string) (bool, error)
	SubmitWithdrawalFunc    func(ctx context.Context, req utils.WithdrawalRequest) (string, error)
	GetWithdrawalStatusFunc func(ctx context.Context, withdrawalID string) (*utils.WithdrawalStatus, error)
	FindWithdrawalFunc      func(ctx context.Context, giftID, claimID string) (string, error)

	submissions atomic.Int32
}

func (m *MockProcessorClient) CreateInvoice(ctx context.Context, req utils.InvoiceRequest) (*utils.Invoice, error) {
	if m.CreateInvoiceFunc == nil {
		return &utils.Invoice{ChargeID: "charge-" + req.GiftID, PaymentRequest: "lnbc10u1funding", Amount: req.Amount}, nil
	}
	return m.CreateInvoiceFunc(ctx, req)
}

func (m *MockProcessorClient) GetInvoiceStatus(ctx context.Context, chargeID string) (bool, error) {
	if m.GetInvoiceStatusFunc == nil {
		return false, nil
	}
	return m.GetInvoiceStatusFunc(ctx, chargeID)
}

func (m *MockProcessorClient) SubmitWithdrawal(ctx context.Context, req utils.WithdrawalRequest) (string, error) {
	m.submissions.Add(1)
	if m.SubmitWithdrawalFunc == nil {
		return "wd-" + req.GiftID, nil
	}
	return m.SubmitWithdrawalFunc(ctx, req)
}

func (m *MockProcessorClient) GetWithdrawalStatus(ctx context.Context, withdrawalID string) (*utils.WithdrawalStatus, error) {
	if m.GetWithdrawalStatusFunc == nil {
		return &utils.WithdrawalStatus{State: utils.WithdrawalStatePending}, nil
	}
	return m.GetWithdrawalStatusFunc(ctx, withdrawalID)
}

func (m *MockProcessorClient) FindWithdrawal(ctx context.Context, giftID, claimID string) (string, error) {
	if m.FindWithdrawalFunc == nil {
		return "", utils.ErrWithdrawalNotFound
	}
	return m.FindWithdrawalFunc(ctx, giftID, claimID)
}

type recordingNotifier struct {
	mu      sync.Mutex
	settled []models.Gift
}

func (n *recordingNotifier) GiftSettled(gift models.Gift) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, gift)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.settled)
}

type testEnv struct {
	db        *gorm.DB
	store     *store.GormGiftStore
	processor *MockProcessorClient
	notifier  *recordingNotifier
	service   *GiftService
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	env := &testEnv{
		db:        db,
		store:     store.NewGormGiftStore(db),
		processor: &MockProcessorClient{},
		notifier:  &recordingNotifier{},
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.service = NewGiftService(env.store, env.processor, env.notifier, Options{
		VerifyCodeCutover: time.Unix(1594588666, 0).UTC(),
		Now:               func() time.Time { return env.now },
	})
	return env
}

// seedGift inserts a gift directly in the given state.
func (e *testEnv) seedGift(t *testing.T, id string, status models.GiftStatus, amount int64) *models.Gift {
	t.Helper()
	gift := &models.Gift{
		ID:            id,
		CreatedAt:     e.now,
		Amount:        amount,
		Status:        status,
		ChargeID:      "charge-" + id,
		ChargeInvoice: "lnbc1funding",
	}
	require.NoError(t, e.store.Create(context.Background(), gift))
	return gift
}

func (e *testEnv) reload(t *testing.T, id string) *models.Gift {
	t.Helper()
	gift, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return gift
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func floatPtr(v float64) *float64 { return &v }
