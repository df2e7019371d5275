package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftworks/telegift/telegift/database/models"
)

func seedHeldPurchase(t *testing.T, actions *fakeActionRepo, buyerID, giftID int64, code string) *models.Action {
	t.Helper()
	inv := &models.Action{UserID: buyerID, GiftID: giftID, InvoiceExternalID: "ext-" + code}
	require.NoError(t, actions.CreateInvoice(context.Background(), inv))
	unit, err := actions.PromoteInvoice(context.Background(), inv.InvoiceExternalID, code)
	require.NoError(t, err)
	require.NotNil(t, unit)
	return unit
}

func TestTransferClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("hands unit to claimant and records the pair", func(t *testing.T) {
		actions := newFakeActionRepo()
		users := newFakeUserRepo(
			&models.User{ID: 1, FirstName: "Buyer"},
			&models.User{ID: 2, FirstName: "Friend"},
		)
		unit := seedHeldPurchase(t, actions, 1, 10, "aaaaaaaaaaaaaaaa")

		res, err := NewTransfer(actions, users).Claim(ctx, "aaaaaaaaaaaaaaaa", 2)
		require.NoError(t, err)
		require.False(t, res.Replayed)

		assert.Equal(t, models.ActionSend, res.Send.Kind)
		assert.Equal(t, int64(1), res.Send.UserID)
		assert.Equal(t, int64(2), res.Send.ReceiverID)
		assert.Equal(t, models.ActionReceive, res.Receive.Kind)
		assert.Equal(t, int64(2), res.Receive.UserID)
		assert.Equal(t, int64(1), res.Receive.SenderID)
		assert.Equal(t, res.Send.ID, res.Receive.SendActionID)

		stored, err := actions.GetByID(ctx, unit.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PurchaseClaimed, stored.State)
		assert.Equal(t, int64(2), stored.ReceiverID)
		assert.Equal(t, res.Send.ID, stored.SendActionID)
		assert.Equal(t, res.Receive.ID, stored.ReceiveActionID)

		claimant, err := users.GetByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), claimant.GiftsReceived)

		require.Len(t, res.Intents, 1)
		assert.Equal(t, IntentGiftReceived, res.Intents[0].Kind)
		assert.Equal(t, int64(1), res.Intents[0].NotifyUserID)
	})

	t.Run("rejects the buyer claiming their own unit", func(t *testing.T) {
		actions := newFakeActionRepo()
		users := newFakeUserRepo(&models.User{ID: 1})
		seedHeldPurchase(t, actions, 1, 10, "bbbbbbbbbbbbbbbb")

		_, err := NewTransfer(actions, users).Claim(ctx, "bbbbbbbbbbbbbbbb", 1)
		assert.ErrorIs(t, err, ErrGiftOwn)
	})

	t.Run("unknown code", func(t *testing.T) {
		tr := NewTransfer(newFakeActionRepo(), newFakeUserRepo())
		_, err := tr.Claim(ctx, "nosuchcode000000", 2)
		assert.ErrorIs(t, err, ErrGiftNotFound)
	})

	t.Run("second claimant is turned away", func(t *testing.T) {
		actions := newFakeActionRepo()
		users := newFakeUserRepo(&models.User{ID: 1}, &models.User{ID: 2}, &models.User{ID: 3})
		seedHeldPurchase(t, actions, 1, 10, "cccccccccccccccc")
		tr := NewTransfer(actions, users)

		_, err := tr.Claim(ctx, "cccccccccccccccc", 2)
		require.NoError(t, err)

		_, err = tr.Claim(ctx, "cccccccccccccccc", 3)
		assert.ErrorIs(t, err, ErrGiftAlreadyReceived)
	})

	t.Run("winner replaying gets the original rows without new writes", func(t *testing.T) {
		actions := newFakeActionRepo()
		users := newFakeUserRepo(&models.User{ID: 1}, &models.User{ID: 2})
		seedHeldPurchase(t, actions, 1, 10, "dddddddddddddddd")
		tr := NewTransfer(actions, users)

		first, err := tr.Claim(ctx, "dddddddddddddddd", 2)
		require.NoError(t, err)

		second, err := tr.Claim(ctx, "dddddddddddddddd", 2)
		require.NoError(t, err)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Receive.ID, second.Receive.ID)
		assert.Equal(t, first.Send.ID, second.Send.ID)
		assert.Empty(t, second.Intents)

		claimant, err := users.GetByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), claimant.GiftsReceived, "replay must not bump the counter")
	})

	t.Run("exactly one of many concurrent claimants wins", func(t *testing.T) {
		actions := newFakeActionRepo()
		users := newFakeUserRepo(&models.User{ID: 1})
		const claimants = 16
		for i := int64(2); i < 2+claimants; i++ {
			users.users[i] = &models.User{ID: i}
		}
		seedHeldPurchase(t, actions, 1, 10, "eeeeeeeeeeeeeeee")
		tr := NewTransfer(actions, users)

		var wg sync.WaitGroup
		results := make([]error, claimants)
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = tr.Claim(ctx, "eeeeeeeeeeeeeeee", int64(2+i))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrGiftAlreadyReceived)
			}
		}
		assert.Equal(t, 1, wins)

		total := int64(0)
		for _, u := range users.users {
			total += u.GiftsReceived
		}
		assert.Equal(t, int64(1), total)
	})
}

func TestMarkHandedToRecipientMessage(t *testing.T) {
	ctx := context.Background()
	actions := newFakeActionRepo()
	users := newFakeUserRepo(&models.User{ID: 1}, &models.User{ID: 2})
	unit := seedHeldPurchase(t, actions, 1, 10, "ffffffffffffffff")
	tr := NewTransfer(actions, users)

	stamped, err := tr.MarkHandedToRecipientMessage(ctx, unit.ID, "inline-msg-1")
	require.NoError(t, err)
	require.NotNil(t, stamped)
	assert.Equal(t, "inline-msg-1", stamped.DeliveryMessageRef)

	// Second stamp is a no-op, not an error.
	again, err := tr.MarkHandedToRecipientMessage(ctx, unit.ID, "inline-msg-2")
	require.NoError(t, err)
	assert.Nil(t, again)

	stored, err := actions.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "inline-msg-1", stored.DeliveryMessageRef)

	// Once claimed, no stamp lands at all.
	other := seedHeldPurchase(t, actions, 1, 10, "gggggggggggggggg")
	_, err = tr.Claim(ctx, "gggggggggggggggg", 2)
	require.NoError(t, err)
	stamped, err = tr.MarkHandedToRecipientMessage(ctx, other.ID, "late")
	require.NoError(t, err)
	assert.Nil(t, stamped)
}
