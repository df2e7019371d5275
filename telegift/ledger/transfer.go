package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

// ClaimResult is the outcome of a successful (or benignly replayed) claim.
type ClaimResult struct {
	Purchase *models.Action
	Send     *models.Action
	Receive  *models.Action

	// Replayed is set when the claimant had already received this unit; the
	// result then carries the previously recorded rows and no new intent.
	Replayed bool

	Intents []Intent
}

// Transfer is the claim-code state machine. One purchase unit, one code, one
// receiver, ever. The single point of contention is the conditional
// held -> claimed update in the repository; everything before it is
// fail-fast classification and everything after it is follow-up that at
// worst leaves a detectable, checker-visible gap.
type Transfer struct {
	actions repositories.ActionRepository
	users   repositories.UserRepository
}

func NewTransfer(actions repositories.ActionRepository, users repositories.UserRepository) *Transfer {
	return &Transfer{actions: actions, users: users}
}

// Claim hands the unit identified by code to claimant.
//
// Error surface: ErrGiftNotFound for an unknown code, ErrGiftOwn when the
// buyer tries to claim their own unit, ErrGiftAlreadyReceived when somebody
// else got there first. A repeated claim by the winner is not an error; it
// returns the original rows with Replayed set.
func (t *Transfer) Claim(ctx context.Context, code string, claimantID int64) (*ClaimResult, error) {
	if code == "" || claimantID == 0 {
		return nil, ErrInvalidArgument
	}

	purchase, err := t.actions.GetPurchaseByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("loading purchase by code: %w", err)
	}
	if purchase == nil {
		return nil, ErrGiftNotFound
	}

	if purchase.ReceiverID == claimantID {
		return t.replay(ctx, purchase)
	}
	if purchase.ReceiverID != 0 {
		return nil, ErrGiftAlreadyReceived
	}
	if purchase.UserID == claimantID {
		return nil, ErrGiftOwn
	}

	won, err := t.actions.ClaimPurchase(ctx, purchase.ID, claimantID)
	if err != nil {
		return nil, fmt.Errorf("claiming purchase %d: %w", purchase.ID, err)
	}
	if !won {
		// Lost the race after the snapshot above. Re-read once to say why;
		// never retry the transition.
		return t.classifyLoss(ctx, code, claimantID)
	}

	now := time.Now().UTC()
	send := &models.Action{
		CreatedAt:  now,
		Kind:       models.ActionSend,
		GiftID:     purchase.GiftID,
		UserID:     purchase.UserID,
		ReceiverID: claimantID,
	}
	receive := &models.Action{
		CreatedAt: now,
		Kind:      models.ActionReceive,
		GiftID:    purchase.GiftID,
		UserID:    claimantID,
		SenderID:  purchase.UserID,
	}
	if err := t.actions.CompleteTransfer(ctx, purchase.ID, send, receive); err != nil {
		// The unit is claimed but unlinked; the consistency checker will
		// surface it. Nothing here may undo the claim.
		return nil, fmt.Errorf("completing transfer of purchase %d: %w", purchase.ID, err)
	}

	if err := t.users.IncrementGiftsReceived(ctx, claimantID); err != nil {
		slog.Error("gifts_received counter not incremented",
			slog.Int64("user_id", claimantID),
			slog.Int64("purchase_id", purchase.ID),
			slog.String("error", err.Error()))
	}

	purchase.ReceiverID = claimantID
	purchase.State = models.PurchaseClaimed
	purchase.SendActionID = send.ID
	purchase.ReceiveActionID = receive.ID

	return &ClaimResult{
		Purchase: purchase,
		Send:     send,
		Receive:  receive,
		Intents: []Intent{{
			Kind:               IntentGiftReceived,
			NotifyUserID:       purchase.UserID,
			GiftID:             purchase.GiftID,
			ActionID:           receive.ID,
			SenderID:           purchase.UserID,
			ReceiverID:         claimantID,
			DeliveryMessageRef: purchase.DeliveryMessageRef,
		}},
	}, nil
}

// replay reconstructs the result of an earlier successful claim by the same
// user. No writes, no intents.
func (t *Transfer) replay(ctx context.Context, purchase *models.Action) (*ClaimResult, error) {
	res := &ClaimResult{Purchase: purchase, Replayed: true}
	if purchase.ReceiveActionID == 0 {
		// Claimed but never linked: the crash window the checker reports.
		slog.Warn("replayed claim on unlinked purchase", slog.Int64("purchase_id", purchase.ID))
		return res, nil
	}
	receive, err := t.actions.GetByID(ctx, purchase.ReceiveActionID)
	if err != nil {
		return nil, fmt.Errorf("loading receive action %d: %w", purchase.ReceiveActionID, err)
	}
	res.Receive = receive
	if purchase.SendActionID != 0 {
		send, err := t.actions.GetByID(ctx, purchase.SendActionID)
		if err != nil {
			return nil, fmt.Errorf("loading send action %d: %w", purchase.SendActionID, err)
		}
		res.Send = send
	}
	return res, nil
}

// classifyLoss re-reads the purchase once after a failed conditional write
// and maps what it finds onto the public error surface.
func (t *Transfer) classifyLoss(ctx context.Context, code string, claimantID int64) (*ClaimResult, error) {
	purchase, err := t.actions.GetPurchaseByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("re-reading purchase by code: %w", err)
	}
	if purchase == nil {
		return nil, ErrGiftNotFound
	}
	if purchase.ReceiverID == claimantID {
		// Lost to our own concurrent duplicate request.
		return t.replay(ctx, purchase)
	}
	return nil, ErrGiftAlreadyReceived
}

// MarkHandedToRecipientMessage records the handle of the inline message that
// offered the unit to its recipient. Returns (nil, nil) when the unit was
// already claimed or already stamped; the caller treats that as "nothing to
// do".
func (t *Transfer) MarkHandedToRecipientMessage(ctx context.Context, purchaseID int64, messageHandle string) (*models.Action, error) {
	if purchaseID == 0 || messageHandle == "" {
		return nil, ErrInvalidArgument
	}
	return t.actions.SetDeliveryMessage(ctx, purchaseID, messageHandle)
}
