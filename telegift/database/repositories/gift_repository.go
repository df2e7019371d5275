package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/uptrace/bun"
)

type GiftRepository interface {
	GetAll(ctx context.Context) ([]*models.Gift, error)
	GetByID(ctx context.Context, id int64) (*models.Gift, error)
	// ReserveUnit increments sold_count by one, but only while the gift is
	// not sold out. The compare-and-increment runs as a single statement so
	// concurrent buyers can never push sold_count past total_supply. Returns
	// false when the gift is sold out (or unknown).
	ReserveUnit(ctx context.Context, id int64) (bool, error)
}

type giftRepository struct {
	db *bun.DB
}

func NewGiftRepository(db *bun.DB) GiftRepository {
	return &giftRepository{db: db}
}

func (r *giftRepository) GetAll(ctx context.Context) ([]*models.Gift, error) {
	var gifts []*models.Gift
	err := r.db.NewSelect().
		Model(&gifts).
		Order("display_order ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list gifts: %w", err)
	}
	return gifts, nil
}

func (r *giftRepository) GetByID(ctx context.Context, id int64) (*models.Gift, error) {
	gift := new(models.Gift)
	err := r.db.NewSelect().
		Model(gift).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gift: %w", err)
	}
	return gift, nil
}

func (r *giftRepository) ReserveUnit(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Gift)(nil)).
		Set("sold_count = sold_count + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND sold_count < total_supply", id).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve gift unit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}
