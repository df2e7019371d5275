package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// LocalizedText maps a locale code to a display string.
type LocalizedText map[string]string

// In returns the text for the given locale, falling back to English and then
// to any available translation.
func (t LocalizedText) In(locale string) string {
	if s, ok := t[locale]; ok {
		return s
	}
	if s, ok := t["en"]; ok {
		return s
	}
	for _, s := range t {
		return s
	}
	return ""
}

// Gift is a catalog entry for a limited-edition digital gift. Created once at
// seed time; only sold_count changes afterwards, and only through
// GiftRepository.ReserveUnit.
type Gift struct {
	bun.BaseModel `bun:"table:gifts,alias:g"`

	ID           int64           `bun:"id,pk,autoincrement"`
	DisplayOrder int             `bun:"display_order,notnull,default:0"`
	Name         LocalizedText   `bun:"name,type:jsonb"`
	Image        string          `bun:"image"`
	Color        string          `bun:"color"`
	Animation    string          `bun:"animation"`
	Price        decimal.Decimal `bun:"price,notnull,type:numeric"`
	Asset        string          `bun:"asset,notnull"`
	TotalSupply  int             `bun:"total_supply,notnull"`
	SoldCount    int             `bun:"sold_count,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (g *Gift) SoldOut() bool {
	return g.SoldCount >= g.TotalSupply
}
