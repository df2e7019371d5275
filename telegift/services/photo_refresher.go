package services

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/giftworks/telegift/telegift/database/repositories"
)

const (
	// PhotoTTL is how long a fetched profile photo is trusted before the
	// refresher looks at it again.
	PhotoTTL = 30 * time.Minute

	refreshBatchSize  = 50
	refreshConcurrent = 4
)

// PhotoSource fetches a user's current profile photo from the messenger.
// A (="", nil, nil) return means the user has no photo.
type PhotoSource interface {
	UserPhoto(ctx context.Context, userID int64) (fileID string, jpeg []byte, err error)
}

// PhotoRefresher walks users whose stored photo went stale and re-fetches
// them on a timer. Each row is claimed with a compare-and-set on
// photo_refreshed_at before any network work, so overlapping refresher
// instances never fetch the same user twice.
type PhotoRefresher struct {
	users   repositories.UserRepository
	source  PhotoSource
	avatars *AvatarStorage
	sem     *semaphore.Weighted
}

func NewPhotoRefresher(users repositories.UserRepository, source PhotoSource, avatars *AvatarStorage) *PhotoRefresher {
	return &PhotoRefresher{
		users:   users,
		source:  source,
		avatars: avatars,
		sem:     semaphore.NewWeighted(refreshConcurrent),
	}
}

// Start runs refresh sweeps until ctx is cancelled.
func (r *PhotoRefresher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = PhotoTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep over stale rows.
func (r *PhotoRefresher) RunOnce(ctx context.Context) {
	stale, err := r.users.ListStalePhotos(ctx, time.Now().Add(-PhotoTTL), refreshBatchSize)
	if err != nil {
		slog.Error("listing stale photos failed", slog.String("error", err.Error()))
		return
	}

	for _, u := range stale {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		userID, observed := u.ID, u.PhotoRefreshedAt
		go func() {
			defer r.sem.Release(1)
			r.refreshOne(ctx, userID, observed)
		}()
	}
}

func (r *PhotoRefresher) refreshOne(ctx context.Context, userID int64, observed time.Time) {
	claimed, err := r.users.ClaimPhotoRefresh(ctx, userID, observed)
	if err != nil {
		slog.Error("claiming photo refresh failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	if !claimed {
		// Another instance got there first.
		return
	}

	fileID, jpeg, err := r.source.UserPhoto(ctx, userID)
	if err != nil {
		slog.Warn("fetching profile photo failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
		return
	}

	if fileID == "" {
		if err := r.users.SetPhoto(ctx, userID, "", false); err != nil {
			slog.Error("clearing photo failed", slog.Int64("user_id", userID), slog.String("error", err.Error()))
		}
		return
	}

	if r.avatars != nil && len(jpeg) > 0 {
		if _, err := r.avatars.Put(ctx, userID, jpeg); err != nil {
			slog.Warn("storing avatar failed",
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()))
			// The database record still advances; the CDN copy catches up
			// next sweep.
		}
	}

	if err := r.users.SetPhoto(ctx, userID, fileID, true); err != nil {
		slog.Error("recording photo failed", slog.Int64("user_id", userID), slog.String("error", err.Error()))
	}
}
