package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ActionKind string

const (
	ActionInvoice  ActionKind = "invoice"
	ActionPurchase ActionKind = "purchase"
	ActionSend     ActionKind = "send"
	ActionReceive  ActionKind = "receive"
)

// PurchaseState is the explicit transfer state of a purchase action. The only
// allowed transition is held -> claimed, performed by a single conditional
// update. Rows of other kinds leave the column NULL.
type PurchaseState string

const (
	PurchaseHeld    PurchaseState = "held"
	PurchaseClaimed PurchaseState = "claimed"
)

// Action is one ledger record. Rows are append-only except for the modeled
// transitions: invoice -> purchase promotion on payment, the held -> claimed
// transfer, delivery-ref stamping and send/receive link back-fill.
//
// UserID is the author: the buyer on invoice/purchase/send rows, the claimant
// on receive rows. A purchase row represents exactly one owned gift unit.
type Action struct {
	bun.BaseModel `bun:"table:actions,alias:a"`

	ID        int64      `bun:"id,pk,autoincrement"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	Kind      ActionKind `bun:"kind,notnull"`

	GiftID int64 `bun:"gift_id,notnull"`
	UserID int64 `bun:"user_id,notnull"`

	// Purchase-only: single-use claim token and transfer state.
	ClaimCode string        `bun:"claim_code,nullzero"`
	State     PurchaseState `bun:"state,nullzero"`

	InvoiceExternalID string          `bun:"invoice_external_id,nullzero"`
	Price             decimal.Decimal `bun:"price,type:numeric"`
	Asset             string          `bun:"asset"`

	// Opaque handle of the outbound claim-offer message, needed to edit it
	// once the unit is claimed.
	DeliveryMessageRef string `bun:"delivery_message_ref,nullzero"`

	// Cross-links written at claim time. The purchase row points at its
	// send/receive pair; each of the pair points back at the purchase and
	// at its sibling.
	PurchaseActionID int64 `bun:"purchase_action_id,nullzero"`
	SendActionID     int64 `bun:"send_action_id,nullzero"`
	ReceiveActionID  int64 `bun:"receive_action_id,nullzero"`
	SenderID         int64 `bun:"sender_id,nullzero"`
	ReceiverID       int64 `bun:"receiver_id,nullzero"`

	// Joined display projections, loaded by the query facade.
	User     *User `bun:"rel:belongs-to,join:user_id=id"`
	Sender   *User `bun:"rel:belongs-to,join:sender_id=id"`
	Receiver *User `bun:"rel:belongs-to,join:receiver_id=id"`
	Gift     *Gift `bun:"rel:belongs-to,join:gift_id=id"`
}

// Held reports whether this purchase unit can still be claimed.
func (a *Action) Held() bool {
	return a.Kind == ActionPurchase && a.State == PurchaseHeld
}

// Delivered reports whether a claim-offer message was already recorded for
// this unit.
func (a *Action) Delivered() bool {
	return a.DeliveryMessageRef != ""
}
