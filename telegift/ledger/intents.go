package ledger

// IntentKind names a notification the state machine wants delivered after a
// transition commits. The ledger never talks to Telegram itself; it hands
// intents back to the caller and the gateway turns them into messages.
type IntentKind string

const (
	// IntentPurchaseConfirmed tells the buyer their payment went through and
	// the unit is ready to send.
	IntentPurchaseConfirmed IntentKind = "purchase_confirmed"

	// IntentGiftReceived tells the original buyer somebody claimed their
	// unit. DeliveryMessageRef, when set, points at the inline message that
	// carried the claim offer so the gateway can rewrite it in place.
	IntentGiftReceived IntentKind = "gift_received"
)

// Intent is a side effect the caller still owes the outside world. Delivery
// is best effort: a dropped intent never rolls back the ledger write that
// produced it.
type Intent struct {
	Kind               IntentKind
	NotifyUserID       int64
	GiftID             int64
	ActionID           int64
	SenderID           int64
	ReceiverID         int64
	ClaimCode          string
	DeliveryMessageRef string
}
