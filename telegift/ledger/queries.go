package ledger

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

// claimCodePattern matches a full claim code: the nanoid URL alphabet at the
// minted length, nothing else.
var claimCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16}$`)

// IsClaimCode reports whether s has the exact shape of a minted claim code.
func IsClaimCode(s string) bool {
	return claimCodePattern.MatchString(s)
}

// Profile is a user row together with its leaderboard rank. Rank is
// 1-based: 1 + the number of users with strictly more gifts received, so
// ties share a rank.
type Profile struct {
	User *models.User
	Rank int
}

// Snapshot is the single-call bootstrap projection a client renders its
// opening screen from.
type Snapshot struct {
	Me          *Profile
	Catalog     []*models.Gift
	Held        []*models.Action
	Received    []*models.Action
	Leaderboard []*models.User
}

// Queries is the read-only facade over the ledger. Every listing is a fixed
// page of PageSize rows, newest first; callers page with offsets.
type Queries struct {
	gifts   repositories.GiftRepository
	users   repositories.UserRepository
	actions repositories.ActionRepository
}

func NewQueries(
	gifts repositories.GiftRepository,
	users repositories.UserRepository,
	actions repositories.ActionRepository,
) *Queries {
	return &Queries{gifts: gifts, users: users, actions: actions}
}

// Catalog lists every gift with live supply counters.
func (q *Queries) Catalog(ctx context.Context) ([]*models.Gift, error) {
	return q.gifts.GetAll(ctx)
}

// Gift returns one catalog entry or ErrGiftNotFound.
func (q *Queries) Gift(ctx context.Context, id int64) (*models.Gift, error) {
	gift, err := q.gifts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if gift == nil {
		return nil, ErrGiftNotFound
	}
	return gift, nil
}

// HeldUnits lists the caller's paid-but-unsent purchase units.
func (q *Queries) HeldUnits(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	return q.actions.ListHeldByUser(ctx, userID, offset)
}

// ReceivedGifts lists the receive actions of a user, newest first.
func (q *Queries) ReceivedGifts(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	return q.actions.ListReceivedByUser(ctx, userID, offset)
}

// Activity lists every action a user authored or received.
func (q *Queries) Activity(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	return q.actions.ListActivityByUser(ctx, userID, offset)
}

// GiftHistory lists purchase and send actions of one gift.
func (q *Queries) GiftHistory(ctx context.Context, giftID int64, offset int) ([]*models.Action, error) {
	return q.actions.ListByGift(ctx, giftID, offset)
}

// Leaderboard returns the top users by gifts received.
func (q *Queries) Leaderboard(ctx context.Context) ([]*models.User, error) {
	return q.users.GetTopUsers(ctx, repositories.LeaderboardSize)
}

// UserProfile loads a user with their rank, or ErrNotFound.
func (q *Queries) UserProfile(ctx context.Context, id int64) (*Profile, error) {
	user, err := q.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	above, err := q.users.CountRankedAbove(ctx, user.GiftsReceived)
	if err != nil {
		return nil, fmt.Errorf("ranking user %d: %w", id, err)
	}
	return &Profile{User: user, Rank: above + 1}, nil
}

// SearchUsers returns name-matched users ordered by gifts received. The
// fuzzy re-ranking layer sits above this in the search service.
func (q *Queries) SearchUsers(ctx context.Context, pattern string, offset int) ([]*models.User, error) {
	return q.users.SearchByName(ctx, pattern, offset, repositories.PageSize)
}

// ResolveClaimableUnits answers an inline query. A full claim code resolves
// to at most the single still-deliverable unit it names; an empty query
// lists the caller's held units; anything else resolves to nothing.
func (q *Queries) ResolveClaimableUnits(ctx context.Context, userID int64, query string) ([]*models.Action, error) {
	switch {
	case claimCodePattern.MatchString(query):
		unit, err := q.actions.FindClaimableByCode(ctx, query)
		if err != nil {
			return nil, err
		}
		if unit == nil {
			return nil, nil
		}
		return []*models.Action{unit}, nil
	case query == "":
		return q.actions.ListHeldByUser(ctx, userID, 0)
	default:
		return nil, nil
	}
}

// BootstrapSnapshot assembles the opening-screen projection with the five
// reads fanned out concurrently.
func (q *Queries) BootstrapSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	snap := &Snapshot{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		me, err := q.UserProfile(ctx, userID)
		if err != nil {
			return err
		}
		snap.Me = me
		return nil
	})
	g.Go(func() error {
		catalog, err := q.Catalog(ctx)
		snap.Catalog = catalog
		return err
	})
	g.Go(func() error {
		held, err := q.HeldUnits(ctx, userID, 0)
		snap.Held = held
		return err
	})
	g.Go(func() error {
		received, err := q.ReceivedGifts(ctx, userID, 0)
		snap.Received = received
		return err
	})
	g.Go(func() error {
		leaders, err := q.Leaderboard(ctx)
		snap.Leaderboard = leaders
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
