package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

func TestInventoryBound(t *testing.T) {
	ctx := context.Background()
	gifts := newFakeGiftRepo(&models.Gift{ID: 1, TotalSupply: 5})
	inv := NewInventory(gifts)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = inv.ReserveUnit(ctx, 1)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrSoldOut)
		}
	}
	assert.Equal(t, 5, won)

	g, err := gifts.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, g.SoldCount)

	assert.ErrorIs(t, inv.ReserveUnit(ctx, 99), ErrGiftNotFound)
}

func TestUserProfileRank(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo(
		&models.User{ID: 1, GiftsReceived: 10},
		&models.User{ID: 2, GiftsReceived: 7},
		&models.User{ID: 3, GiftsReceived: 7},
		&models.User{ID: 4, GiftsReceived: 1},
	)
	q := NewQueries(newFakeGiftRepo(), users, newFakeActionRepo())

	tests := []struct {
		userID int64
		rank   int
	}{
		{1, 1},
		{2, 2},
		{3, 2}, // ties share a rank
		{4, 4},
	}
	for _, tt := range tests {
		p, err := q.UserProfile(ctx, tt.userID)
		require.NoError(t, err)
		assert.Equal(t, tt.rank, p.Rank, "user %d", tt.userID)
	}

	_, err := q.UserProfile(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivityPagination(t *testing.T) {
	ctx := context.Background()
	actions := newFakeActionRepo()
	for i := 0; i < repositories.PageSize+5; i++ {
		require.NoError(t, actions.CreateInvoice(ctx, &models.Action{
			UserID:            1,
			GiftID:            10,
			InvoiceExternalID: fmt.Sprintf("ext-%d", i),
		}))
	}
	q := NewQueries(newFakeGiftRepo(), newFakeUserRepo(&models.User{ID: 1}), actions)

	page1, err := q.Activity(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, page1, repositories.PageSize)

	page2, err := q.Activity(ctx, 1, repositories.PageSize)
	require.NoError(t, err)
	assert.Len(t, page2, 5)

	// Newest first, pages do not overlap.
	assert.Greater(t, page1[0].ID, page1[len(page1)-1].ID)
	assert.Greater(t, page1[len(page1)-1].ID, page2[0].ID)
}

func TestResolveClaimableUnits(t *testing.T) {
	ctx := context.Background()
	cake := &models.Gift{ID: 10, Name: models.LocalizedText{"en": "Cake"}, Image: "delicious-cake"}
	actions := newFakeActionRepo(cake)
	users := newFakeUserRepo(&models.User{ID: 1})
	unit := seedHeldPurchase(t, actions, 1, 10, "hhhhhhhhhhhhhhhh")
	q := NewQueries(newFakeGiftRepo(cake), users, actions)

	t.Run("full code resolves the unit with its gift", func(t *testing.T) {
		got, err := q.ResolveClaimableUnits(ctx, 1, "hhhhhhhhhhhhhhhh")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, unit.ID, got[0].ID)
		require.NotNil(t, got[0].Gift, "offers render the gift name and image")
		assert.Equal(t, "Cake", got[0].Gift.Name.In("en"))
	})

	t.Run("empty query lists own held units with their gifts", func(t *testing.T) {
		got, err := q.ResolveClaimableUnits(ctx, 1, "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].Gift)
		assert.Equal(t, "delicious-cake", got[0].Gift.Image)
	})

	t.Run("partial text resolves nothing", func(t *testing.T) {
		got, err := q.ResolveClaimableUnits(ctx, 1, "hhhh")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("wrong full-length code resolves nothing", func(t *testing.T) {
		got, err := q.ResolveClaimableUnits(ctx, 1, "zzzzzzzzzzzzzzzz")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestHeldUnitsExcludeDelivered(t *testing.T) {
	ctx := context.Background()
	actions := newFakeActionRepo()
	users := newFakeUserRepo(&models.User{ID: 1})
	offered := seedHeldPurchase(t, actions, 1, 10, "aaaaaaaaaaaaaaaa")
	pending := seedHeldPurchase(t, actions, 1, 10, "bbbbbbbbbbbbbbbb")
	q := NewQueries(newFakeGiftRepo(), users, actions)
	tr := NewTransfer(actions, users)

	_, err := tr.MarkHandedToRecipientMessage(ctx, offered.ID, "inline-1")
	require.NoError(t, err)

	// A unit whose claim offer is already out stays with its recipient; only
	// unoffered units remain listable for sending.
	held, err := q.HeldUnits(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, pending.ID, held[0].ID)

	offers, err := q.ResolveClaimableUnits(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, pending.ID, offers[0].ID)
}

func TestBootstrapSnapshot(t *testing.T) {
	ctx := context.Background()
	gifts := newFakeGiftRepo(&models.Gift{ID: 10, TotalSupply: 100})
	users := newFakeUserRepo(&models.User{ID: 1}, &models.User{ID: 2, GiftsReceived: 3})
	actions := newFakeActionRepo()
	seedHeldPurchase(t, actions, 1, 10, "iiiiiiiiiiiiiiii")
	q := NewQueries(gifts, users, actions)

	snap, err := q.BootstrapSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Me.User.ID)
	assert.Equal(t, 2, snap.Me.Rank)
	assert.Len(t, snap.Catalog, 1)
	assert.Len(t, snap.Held, 1)
	assert.Empty(t, snap.Received)
	assert.Len(t, snap.Leaderboard, 2)

	_, err = q.BootstrapSnapshot(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsistencyChecker(t *testing.T) {
	ctx := context.Background()
	actions := newFakeActionRepo()
	unit := seedHeldPurchase(t, actions, 1, 10, "jjjjjjjjjjjjjjjj")

	// Simulate a crash between the claim write and the link back-fill.
	won, err := actions.ClaimPurchase(ctx, unit.ID, 2)
	require.NoError(t, err)
	require.True(t, won)

	found, err := actions.FindUnlinkedClaimed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, unit.ID, found[0].ID)

	// RunOnce only reports; the row must be untouched after.
	NewConsistencyChecker(actions, 0).RunOnce(ctx)
	found, err = actions.FindUnlinkedClaimed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
