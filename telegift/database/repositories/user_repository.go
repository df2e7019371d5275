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

// LeaderboardSize caps how many users the leaderboard and name search return.
const LeaderboardSize = 100

type UserRepository interface {
	// Upsert inserts the user on first contact or refreshes the profile
	// fields on subsequent contacts. Locale, theme and the received-gifts
	// counter are set on insert only, so later updates never clobber what
	// the user or the transfer flow changed. Returns the stored row.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetTopUsers(ctx context.Context, limit int) ([]*models.User, error)
	// CountRankedAbove returns how many users hold strictly more gifts,
	// which is the caller's zero-based leaderboard position.
	CountRankedAbove(ctx context.Context, giftsReceived int64) (int, error)
	SearchByName(ctx context.Context, pattern string, offset, limit int) ([]*models.User, error)
	IncrementGiftsReceived(ctx context.Context, id int64) error
	UpdateSettings(ctx context.Context, id int64, theme, locale *string) error
	// ClaimPhotoRefresh advances photo_refreshed_at from the observed value
	// to now, returning false if another worker got there first.
	ClaimPhotoRefresh(ctx context.Context, id int64, observed time.Time) (bool, error)
	SetPhoto(ctx context.Context, id int64, fileID string, hasPhoto bool) error
	ListStalePhotos(ctx context.Context, olderThan time.Time, limit int) ([]*models.User, error)
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Locale == "" {
		user.Locale = "en"
	}

	stored := new(models.User)
	err := r.db.NewInsert().
		Model(user).
		On("CONFLICT (id) DO UPDATE").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("username = EXCLUDED.username").
		Set("premium = EXCLUDED.premium").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Scan(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return stored, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *userRepository) GetTopUsers(ctx context.Context, limit int) ([]*models.User, error) {
	if limit <= 0 || limit > LeaderboardSize {
		limit = LeaderboardSize
	}

	var users []*models.User
	err := r.db.NewSelect().
		Model(&users).
		Order("gifts_received DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list top users: %w", err)
	}
	return users, nil
}

func (r *userRepository) CountRankedAbove(ctx context.Context, giftsReceived int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("gifts_received > ?", giftsReceived).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count ranked users: %w", err)
	}
	return count, nil
}

func (r *userRepository) SearchByName(ctx context.Context, pattern string, offset, limit int) ([]*models.User, error) {
	if limit <= 0 || limit > LeaderboardSize {
		limit = LeaderboardSize
	}

	like := "%" + pattern + "%"
	var users []*models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("first_name ILIKE ? OR last_name ILIKE ? OR username ILIKE ?", like, like, like).
		Order("gifts_received DESC").
		Offset(offset).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

func (r *userRepository) IncrementGiftsReceived(ctx context.Context, id int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("gifts_received = gifts_received + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to increment gifts_received: %w", err)
	}
	return nil
}

func (r *userRepository) UpdateSettings(ctx context.Context, id int64, theme, locale *string) error {
	if theme == nil && locale == nil {
		return nil
	}

	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)
	if theme != nil {
		q = q.Set("theme = ?", *theme)
	}
	if locale != nil {
		q = q.Set("locale = ?", *locale)
	}

	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

func (r *userRepository) ClaimPhotoRefresh(ctx context.Context, id int64, observed time.Time) (bool, error) {
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("photo_refreshed_at = ?", time.Now()).
		Where("id = ?", id)
	if observed.IsZero() {
		q = q.Where("photo_refreshed_at IS NULL")
	} else {
		q = q.Where("photo_refreshed_at = ?", observed)
	}

	result, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim photo refresh: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r *userRepository) SetPhoto(ctx context.Context, id int64, fileID string, hasPhoto bool) error {
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("photo_file_id = ?", sql.NullString{String: fileID, Valid: fileID != ""}).
		Set("has_photo = ?", hasPhoto).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set photo: %w", err)
	}
	return nil
}

func (r *userRepository) ListStalePhotos(ctx context.Context, olderThan time.Time, limit int) ([]*models.User, error) {
	var users []*models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("photo_refreshed_at IS NULL OR photo_refreshed_at < ?", olderThan).
		Order("photo_refreshed_at ASC NULLS FIRST").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale photos: %w", err)
	}
	return users, nil
}
