package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/lightning-gifts/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: conditional update conflict")
)

// Expect is the precondition of a conditional update.
type Expect struct {
	Status models.GiftStatus
	// ClaimID, when set, requires the stored claim id to equal it.
	ClaimID string
	// WithdrawalID, when set, requires the stored withdrawal id to equal it.
	WithdrawalID string
}

// ListQuery selects gifts in one status, ordered by creation time and id.
// A page resumes after the (AfterCreatedAt, AfterID) key of the last row
// of the previous page.
type ListQuery struct {
	Status         models.GiftStatus
	Since          time.Time
	AfterCreatedAt time.Time
	AfterID        string
	Limit          int
}

// Next returns the query for the page following gifts.
func (q ListQuery) Next(gifts []models.Gift) ListQuery {
	if len(gifts) == 0 {
		return q
	}
	last := gifts[len(gifts)-1]
	q.AfterCreatedAt = last.CreatedAt
	q.AfterID = last.ID
	return q
}

// GormGiftStore persists gifts. All mutations after creation go through
// ConditionalUpdate, a single UPDATE ... WHERE statement, so concurrent
// writers on the same gift are linearized by the database.
type GormGiftStore struct {
	db *gorm.DB
}

func NewGormGiftStore(db *gorm.DB) *GormGiftStore {
	return &GormGiftStore{db: db}
}

func (s *GormGiftStore) Get(ctx context.Context, id string) (*models.Gift, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormGiftStore) GetByChargeID(ctx context.Context, chargeID string) (*models.Gift, error) {
	return s.first(ctx, "charge_id = ?", chargeID)
}

func (s *GormGiftStore) GetByWithdrawalID(ctx context.Context, withdrawalID string) (*models.Gift, error) {
	return s.first(ctx, "withdrawal_id = ?", withdrawalID)
}

func (s *GormGiftStore) first(ctx context.Context, query string, arg string) (*models.Gift, error) {
	if arg == "" {
		return nil, ErrNotFound
	}
	var gift models.Gift
	if err := s.db.WithContext(ctx).Where(query, arg).First(&gift).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load gift: %w", err)
	}
	return &gift, nil
}

func (s *GormGiftStore) Create(ctx context.Context, gift *models.Gift) error {
	if !gift.Status.Valid() {
		return fmt.Errorf("failed to create gift: invalid status %q", gift.Status)
	}
	if err := s.db.WithContext(ctx).Create(gift).Error; err != nil {
		return fmt.Errorf("failed to create gift: %w", err)
	}
	return nil
}

// ConditionalUpdate applies updates only if the stored gift matches expect.
// It returns ErrNotFound when the gift does not exist and ErrConflict when
// the precondition no longer holds.
func (s *GormGiftStore) ConditionalUpdate(ctx context.Context, id string, expect Expect, updates map[string]any) error {
	if id == "" {
		return ErrNotFound
	}
	q := s.db.WithContext(ctx).Model(&models.Gift{}).Where("id = ? AND status = ?", id, expect.Status)
	if expect.ClaimID != "" {
		q = q.Where("claim_id = ?", expect.ClaimID)
	}
	if expect.WithdrawalID != "" {
		q = q.Where("withdrawal_id = ?", expect.WithdrawalID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update gift: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Gift{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check gift: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// ListByStatus returns one page of gifts matching query.
func (s *GormGiftStore) ListByStatus(ctx context.Context, query ListQuery) ([]models.Gift, error) {
	var gifts []models.Gift
	q := s.db.WithContext(ctx).Where("status = ?", query.Status)
	if !query.Since.IsZero() {
		q = q.Where("created_at >= ?", query.Since)
	}
	if query.AfterID != "" {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", query.AfterCreatedAt, query.AfterCreatedAt, query.AfterID)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Order("created_at ASC").Order("id ASC").Find(&gifts).Error; err != nil {
		return nil, fmt.Errorf("failed to list gifts: %w", err)
	}
	return gifts, nil
}
