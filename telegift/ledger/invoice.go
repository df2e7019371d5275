package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

// ClaimCodeLength is the length of the URL-safe code minted for every paid
// unit. 16 characters of the nanoid alphabet is far beyond what the catalog
// sizes could ever collide on.
const ClaimCodeLength = 16

// ProviderInvoice is what the payment provider hands back for an opened
// invoice: its own id and the URL the buyer is sent to.
type ProviderInvoice struct {
	ExternalID string
	PaymentURL string
}

// PaymentProvider creates invoices with an external payment service. The
// workflow passes structured gift and buyer data; the adapter owns wire
// format and presentation (currency strings, localized descriptions).
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, gift *models.Gift, buyer *models.User) (*ProviderInvoice, error)
}

// InvoiceRef is returned to the caller of OpenInvoice.
type InvoiceRef struct {
	ActionID   int64
	ExternalID string
	PaymentURL string
}

// InvoiceWorkflow drives a unit from "buyer clicked buy" to "paid and held".
//
// The provider call happens before any ledger write: if it fails nothing is
// recorded and nothing was reserved. Supply is consumed at payment
// confirmation, not at invoice open, because there is no release operation;
// reserving eagerly would leak a unit for every abandoned invoice.
type InvoiceWorkflow struct {
	actions   repositories.ActionRepository
	users     repositories.UserRepository
	inventory *Inventory
	provider  PaymentProvider
}

func NewInvoiceWorkflow(
	actions repositories.ActionRepository,
	users repositories.UserRepository,
	inventory *Inventory,
	provider PaymentProvider,
) *InvoiceWorkflow {
	return &InvoiceWorkflow{
		actions:   actions,
		users:     users,
		inventory: inventory,
		provider:  provider,
	}
}

// OpenInvoice creates a payment invoice with the provider and records the
// pending Action. The gift is only checked for existence and remaining
// supply here; nothing is reserved until ConfirmPayment.
func (w *InvoiceWorkflow) OpenInvoice(ctx context.Context, buyerID, giftID int64) (*InvoiceRef, error) {
	gift, err := w.inventory.Availability(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if gift.SoldOut() {
		return nil, ErrSoldOut
	}

	buyer, err := w.users.GetByID(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("loading buyer %d: %w", buyerID, err)
	}
	if buyer == nil {
		return nil, ErrNotFound
	}

	inv, err := w.provider.CreateInvoice(ctx, gift, buyer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	action := &models.Action{
		Kind:              models.ActionInvoice,
		UserID:            buyerID,
		GiftID:            giftID,
		Price:             gift.Price,
		Asset:             gift.Asset,
		InvoiceExternalID: inv.ExternalID,
	}
	if err := w.actions.CreateInvoice(ctx, action); err != nil {
		return nil, fmt.Errorf("recording invoice: %w", err)
	}

	return &InvoiceRef{
		ActionID:   action.ID,
		ExternalID: inv.ExternalID,
		PaymentURL: inv.PaymentURL,
	}, nil
}

// ConfirmPayment promotes the invoice identified by the provider's external
// id into a held purchase unit, mints its claim code, and consumes one unit
// of supply. Duplicate provider callbacks are absorbed: when the invoice was
// already promoted the method returns (nil, nil, nil) and writes nothing.
func (w *InvoiceWorkflow) ConfirmPayment(ctx context.Context, invoiceExternalID string) (*models.Action, *Intent, error) {
	if invoiceExternalID == "" {
		return nil, nil, ErrInvalidArgument
	}

	code, err := gonanoid.New(ClaimCodeLength)
	if err != nil {
		return nil, nil, fmt.Errorf("minting claim code: %w", err)
	}

	unit, err := w.actions.PromoteInvoice(ctx, invoiceExternalID, code)
	if err != nil {
		return nil, nil, fmt.Errorf("promoting invoice %s: %w", invoiceExternalID, err)
	}
	if unit == nil {
		// Already promoted by an earlier callback.
		return nil, nil, nil
	}

	// Bookkeeping: the counter trails confirmation, so a burst of payments on
	// the last unit can drive it to the cap after money already moved. The
	// unit stays valid either way; the anomaly is logged, not enforced.
	if err := w.inventory.ReserveUnit(ctx, unit.GiftID); err != nil {
		if errors.Is(err, ErrSoldOut) {
			slog.Warn("paid unit exceeds recorded supply",
				slog.Int64("gift_id", unit.GiftID),
				slog.Int64("action_id", unit.ID))
		} else {
			return nil, nil, err
		}
	}

	intent := &Intent{
		Kind:         IntentPurchaseConfirmed,
		NotifyUserID: unit.UserID,
		GiftID:       unit.GiftID,
		ActionID:     unit.ID,
		ClaimCode:    unit.ClaimCode,
	}
	return unit, intent, nil
}
