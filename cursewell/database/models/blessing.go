package models

import "github.com/uptrace/bun"

// DefaultBlessingID is applied when a curse is resolved without an explicit
// blessing choice, including curses auto-resolved by reclamation.
const DefaultBlessingID = 1

type Blessing struct {
	bun.BaseModel `bun:"table:blessings,alias:b"`

	ID          int    `bun:"blessing_id,pk,autoincrement"`
	Name        string `bun:"name,notnull"`
	Description string `bun:"description"`
}
