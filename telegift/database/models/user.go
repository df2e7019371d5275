package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User is a Telegram account known to the service. The primary key is the
// external Telegram user id, so users are upserted on first contact rather
// than created explicitly. GiftsReceived is a denormalized counter maintained
// by the transfer flow and used as the leaderboard rank key.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64  `bun:"id,pk"`
	FirstName string `bun:"first_name,notnull"`
	LastName  string `bun:"last_name"`
	Username  string `bun:"username"`
	Premium   bool   `bun:"premium,notnull,default:false"`

	// Set on insert only; the user may change them later via settings.
	Locale string `bun:"locale,notnull,default:'en'"`
	Theme  string `bun:"theme,nullzero"`

	GiftsReceived int64 `bun:"gifts_received,notnull,default:0"`

	// Cached avatar. The photo bytes live in object storage keyed by user id;
	// these fields only track what was last fetched and when.
	HasPhoto         bool      `bun:"has_photo,notnull,default:false"`
	PhotoFileID      string    `bun:"photo_file_id,nullzero"`
	PhotoRefreshedAt time.Time `bun:"photo_refreshed_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}
