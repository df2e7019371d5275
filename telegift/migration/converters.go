package migration

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giftworks/telegift/telegift/database/models"
)

// convertGift maps a legacy catalog document. The ObjectID key is replaced
// by the catalog position, which the old app kept unique and sorted on; the
// mapping is remembered so actions can resolve their gift references.
func (m *Migrator) convertGift(mg MongoGift) *models.Gift {
	id := int64(mg.Order)
	m.giftIDs[mg.ID] = id
	return &models.Gift{
		ID:           id,
		DisplayOrder: mg.Order,
		Name:         models.LocalizedText(mg.Name),
		Image:        mg.Image,
		Color:        mg.Color,
		Animation:    mg.Animation,
		Price:        decimal.NewFromFloat(mg.Price),
		Asset:        mg.Asset,
		TotalSupply:  mg.Total,
		SoldCount:    mg.Sold,
	}
}

func (m *Migrator) convertUser(mu MongoUser) *models.User {
	locale := mu.Locale
	if locale == "" {
		locale = "en"
	}
	user := &models.User{
		ID:            mu.ID,
		FirstName:     mu.FirstName,
		LastName:      mu.LastName,
		Username:      mu.Username,
		Locale:        locale,
		Theme:         mu.Theme,
		GiftsReceived: mu.Gifts,
		HasPhoto:      len(mu.Photo.Data) > 0,
		PhotoFileID:   mu.PhotoID,
	}
	if mu.PhotoTs > 0 {
		user.PhotoRefreshedAt = time.UnixMilli(mu.PhotoTs)
	}
	return user
}

// convertAction maps a legacy action document. The old app called a paid
// unit a "buy"; that becomes a purchase row, claimed when it already has a
// receiver, held otherwise. An action whose gift reference resolves to
// nothing is dropped. Cross-links between the send/receive pair and the
// purchase are rebuilt in a second pass.
func (m *Migrator) convertAction(ma MongoAction) *models.Action {
	giftID, ok := m.giftIDs[ma.GiftID]
	if !ok {
		return nil
	}

	action := &models.Action{
		CreatedAt:          ma.Date.Time(),
		UserID:             ma.UserID,
		GiftID:             giftID,
		ClaimCode:          ma.Code,
		DeliveryMessageRef: ma.InlineID,
		SenderID:           ma.SenderID,
		ReceiverID:         ma.ReceiverID,
		Asset:              ma.Asset,
	}
	if ma.Price != 0 {
		action.Price = decimal.NewFromFloat(ma.Price)
	}
	if ma.InvoiceID != 0 {
		action.InvoiceExternalID = strconv.FormatInt(ma.InvoiceID, 10)
	}

	switch ma.Type {
	case "invoice":
		action.Kind = models.ActionInvoice
	case "buy":
		action.Kind = models.ActionPurchase
		if ma.ReceiverID != 0 {
			action.State = models.PurchaseClaimed
		} else {
			action.State = models.PurchaseHeld
		}
	case "send":
		action.Kind = models.ActionSend
	case "receive":
		action.Kind = models.ActionReceive
	default:
		return nil
	}
	return action
}
