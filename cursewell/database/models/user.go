package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AllowanceCeiling is the value a user's limiter is restored to when their
// blessing allowance is replenished.
const AllowanceCeiling = 3

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       int64  `bun:"user_id,pk,autoincrement"`
	Username string `bun:"username,notnull,unique"`
	Name     string `bun:"name,notnull"`
	Password string `bun:"password,notnull"`

	// Blessing audit fields
	TotalBlessings int64      `bun:"totalblessings,notnull,default:0"`
	LastBlessing   *time.Time `bun:"lastblessing"`
	Limiter        int        `bun:"limiter,notnull,default:3"`

	// Authors whose curses are hidden from this user's pull pool.
	// Append-only, mutated via the block action.
	Blocklist []int64 `bun:"blocklist,type:jsonb"`

	Admin bool `bun:"admin,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// HasBlocked reports whether the given author is on the user's blocklist.
func (u *User) HasBlocked(authorID int64) bool {
	for _, id := range u.Blocklist {
		if id == authorID {
			return true
		}
	}
	return false
}

// HasAllowance reports whether the user can spend a blessing right now,
// without considering replenishment.
func (u *User) HasAllowance() bool {
	return u.Limiter > 0
}
