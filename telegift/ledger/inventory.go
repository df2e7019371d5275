package ledger

import (
	"context"
	"fmt"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

// Inventory guards the per-gift supply counter. All consumption goes through
// ReserveUnit, which rides a single conditional UPDATE in the repository, so
// two concurrent buyers can never both take the last unit.
type Inventory struct {
	gifts repositories.GiftRepository
}

func NewInventory(gifts repositories.GiftRepository) *Inventory {
	return &Inventory{gifts: gifts}
}

// ReserveUnit consumes one unit of supply. Returns ErrSoldOut when the gift
// exists but sold_count already reached total_supply, ErrGiftNotFound when
// the id is unknown.
func (inv *Inventory) ReserveUnit(ctx context.Context, giftID int64) error {
	ok, err := inv.gifts.ReserveUnit(ctx, giftID)
	if err != nil {
		return fmt.Errorf("reserving unit of gift %d: %w", giftID, err)
	}
	if ok {
		return nil
	}

	gift, err := inv.gifts.GetByID(ctx, giftID)
	if err != nil {
		return fmt.Errorf("re-reading gift %d: %w", giftID, err)
	}
	if gift == nil {
		return ErrGiftNotFound
	}
	return ErrSoldOut
}

// Availability reports the gift row for display purposes.
func (inv *Inventory) Availability(ctx context.Context, giftID int64) (*models.Gift, error) {
	gift, err := inv.gifts.GetByID(ctx, giftID)
	if err != nil {
		return nil, err
	}
	if gift == nil {
		return nil, ErrGiftNotFound
	}
	return gift, nil
}
