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

// PageSize is the fixed page size of every ledger listing.
const PageSize = 24

// ActionRepository owns all reads and writes of the ledger. Every state
// transition is a single conditional statement: the WHERE clause carries the
// precondition and RowsAffected tells the caller whether it won. There is no
// read-then-write anywhere in this file.
type ActionRepository interface {
	CreateInvoice(ctx context.Context, action *models.Action) error
	// PromoteInvoice turns the invoice row identified by the provider's
	// external id into a held purchase carrying the given claim code.
	// Returns nil when no invoice row matches, which is how duplicate
	// provider callbacks are absorbed.
	PromoteInvoice(ctx context.Context, invoiceExternalID, claimCode string) (*models.Action, error)

	GetByID(ctx context.Context, id int64) (*models.Action, error)
	GetPurchaseByCode(ctx context.Context, code string) (*models.Action, error)
	// FindClaimableByCode returns the purchase for the code only while it is
	// still held and no claim-offer message was recorded for it.
	FindClaimableByCode(ctx context.Context, code string) (*models.Action, error)

	// ClaimPurchase performs the held -> claimed transition. This is the
	// race guard of the whole transfer protocol: exactly one concurrent
	// caller observes true.
	ClaimPurchase(ctx context.Context, purchaseID, receiverID int64) (bool, error)
	// CompleteTransfer inserts the send/receive pair and back-fills the
	// cross-links on all three rows.
	CompleteTransfer(ctx context.Context, purchaseID int64, send, receive *models.Action) error

	// SetDeliveryMessage stamps the claim-offer message handle onto a
	// purchase, only while it is held and unstamped. Returns nil when the
	// precondition no longer holds.
	SetDeliveryMessage(ctx context.Context, purchaseID int64, ref string) (*models.Action, error)

	ListHeldByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error)
	ListReceivedByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error)
	ListActivityByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error)
	ListByGift(ctx context.Context, giftID int64, offset int) ([]*models.Action, error)

	// FindUnlinkedClaimed lists purchases whose claim won the conditional
	// write but never gained linked send/receive rows (crash window).
	FindUnlinkedClaimed(ctx context.Context, limit int) ([]*models.Action, error)
}

type actionRepository struct {
	db *bun.DB
}

func NewActionRepository(db *bun.DB) ActionRepository {
	return &actionRepository{db: db}
}

func (r *actionRepository) CreateInvoice(ctx context.Context, action *models.Action) error {
	action.Kind = models.ActionInvoice
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	if _, err := r.db.NewInsert().Model(action).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create invoice action: %w", err)
	}
	return nil
}

func (r *actionRepository) PromoteInvoice(ctx context.Context, invoiceExternalID, claimCode string) (*models.Action, error) {
	action := new(models.Action)
	result, err := r.db.NewUpdate().
		Model(action).
		Set("kind = ?", models.ActionPurchase).
		Set("claim_code = ?", claimCode).
		Set("state = ?", models.PurchaseHeld).
		Where("invoice_external_id = ? AND kind = ?", invoiceExternalID, models.ActionInvoice).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to promote invoice: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil
	}
	return action, nil
}

func (r *actionRepository) GetByID(ctx context.Context, id int64) (*models.Action, error) {
	action := new(models.Action)
	err := r.db.NewSelect().
		Model(action).
		Where("a.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

func (r *actionRepository) GetPurchaseByCode(ctx context.Context, code string) (*models.Action, error) {
	action := new(models.Action)
	err := r.db.NewSelect().
		Model(action).
		Where("claim_code = ? AND kind = ?", code, models.ActionPurchase).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase by code: %w", err)
	}
	return action, nil
}

func (r *actionRepository) FindClaimableByCode(ctx context.Context, code string) (*models.Action, error) {
	action := new(models.Action)
	err := r.db.NewSelect().
		Model(action).
		Relation("Gift").
		Where("a.claim_code = ? AND a.kind = ? AND a.state = ?", code, models.ActionPurchase, models.PurchaseHeld).
		Where("a.delivery_message_ref IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find claimable purchase: %w", err)
	}
	return action, nil
}

func (r *actionRepository) ClaimPurchase(ctx context.Context, purchaseID, receiverID int64) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Action)(nil)).
		Set("receiver_id = ?", receiverID).
		Set("state = ?", models.PurchaseClaimed).
		Where("id = ? AND kind = ? AND state = ?", purchaseID, models.ActionPurchase, models.PurchaseHeld).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim purchase: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r *actionRepository) CompleteTransfer(ctx context.Context, purchaseID int64, send, receive *models.Action) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transfer transaction: %w", err)
	}
	defer tx.Rollback()

	send.Kind = models.ActionSend
	send.PurchaseActionID = purchaseID
	if _, err := tx.NewInsert().Model(send).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert send action: %w", err)
	}

	receive.Kind = models.ActionReceive
	receive.PurchaseActionID = purchaseID
	receive.SendActionID = send.ID
	if _, err := tx.NewInsert().Model(receive).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert receive action: %w", err)
	}

	if _, err := tx.NewUpdate().
		Model((*models.Action)(nil)).
		Set("receive_action_id = ?", receive.ID).
		Where("id = ?", send.ID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to link send action: %w", err)
	}
	send.ReceiveActionID = receive.ID

	if _, err := tx.NewUpdate().
		Model((*models.Action)(nil)).
		Set("send_action_id = ?", send.ID).
		Set("receive_action_id = ?", receive.ID).
		Where("id = ?", purchaseID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to link purchase action: %w", err)
	}

	return tx.Commit()
}

func (r *actionRepository) SetDeliveryMessage(ctx context.Context, purchaseID int64, ref string) (*models.Action, error) {
	action := new(models.Action)
	result, err := r.db.NewUpdate().
		Model(action).
		Set("delivery_message_ref = ?", ref).
		Where("id = ? AND kind = ? AND state = ?", purchaseID, models.ActionPurchase, models.PurchaseHeld).
		Where("delivery_message_ref IS NULL").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to set delivery message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil
	}
	return action, nil
}

func (r *actionRepository) ListHeldByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	var actions []*models.Action
	err := r.db.NewSelect().
		Model(&actions).
		Relation("Gift").
		Where("a.user_id = ? AND a.kind = ? AND a.state = ?", userID, models.ActionPurchase, models.PurchaseHeld).
		Where("a.delivery_message_ref IS NULL").
		Order("a.id DESC").
		Offset(offset).
		Limit(PageSize).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list held units: %w", err)
	}
	return actions, nil
}

func (r *actionRepository) ListReceivedByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	return r.list(ctx, offset, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("a.user_id = ? AND a.kind = ?", userID, models.ActionReceive)
	})
}

func (r *actionRepository) ListActivityByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	kinds := []models.ActionKind{
		models.ActionInvoice,
		models.ActionPurchase,
		models.ActionSend,
		models.ActionReceive,
	}
	return r.list(ctx, offset, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("a.user_id = ? AND a.kind IN (?)", userID, bun.In(kinds))
	})
}

func (r *actionRepository) ListByGift(ctx context.Context, giftID int64, offset int) ([]*models.Action, error) {
	kinds := []models.ActionKind{models.ActionPurchase, models.ActionSend}
	return r.list(ctx, offset, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("a.gift_id = ? AND a.kind IN (?)", giftID, bun.In(kinds))
	})
}

// list runs a ledger listing with the shared ordering, paging and user joins.
// The joins replace per-row user lookups; one query serves the whole page.
func (r *actionRepository) list(ctx context.Context, offset int, where func(*bun.SelectQuery) *bun.SelectQuery) ([]*models.Action, error) {
	var actions []*models.Action
	q := r.db.NewSelect().
		Model(&actions).
		Relation("User").
		Relation("Sender").
		Relation("Receiver")
	q = where(q)
	err := q.
		Order("a.id DESC").
		Offset(offset).
		Limit(PageSize).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

func (r *actionRepository) FindUnlinkedClaimed(ctx context.Context, limit int) ([]*models.Action, error) {
	if limit <= 0 {
		limit = PageSize
	}

	var actions []*models.Action
	err := r.db.NewSelect().
		Model(&actions).
		Where("a.kind = ? AND a.receiver_id IS NOT NULL AND a.receive_action_id IS NULL", models.ActionPurchase).
		Order("a.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked claims: %w", err)
	}
	return actions, nil
}
