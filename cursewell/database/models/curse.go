package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Curse struct {
	bun.BaseModel `bun:"table:curses,alias:c"`

	ID     int64  `bun:"curse_id,pk,autoincrement"`
	Curse  string `bun:"curse,notnull"`
	UserID *int64 `bun:"user_id"`

	Blessed  bool `bun:"blessed,notnull,default:false"`
	Blessing *int `bun:"blessing"`

	PulledBy *int64 `bun:"pulled_by"`
	// Set to the creation time on insert and overwritten when the curse is
	// claimed, so age-based reclamation works for never-claimed rows too.
	PulledTime time.Time `bun:"pulled_time,notnull,default:current_timestamp"`
}

type CurseStatus int

const (
	CurseStatusAvailable CurseStatus = iota
	CurseStatusPulled
	CurseStatusBlessed
)

// Status derives the lifecycle state from the row fields.
func (c *Curse) Status() CurseStatus {
	switch {
	case c.Blessed:
		return CurseStatusBlessed
	case c.PulledBy != nil:
		return CurseStatusPulled
	default:
		return CurseStatusAvailable
	}
}

// Anonymous reports whether the curse has no owning user.
func (c *Curse) Anonymous() bool {
	return c.UserID == nil
}

// OwnedBy reports whether the given user authored the curse.
func (c *Curse) OwnedBy(userID int64) bool {
	return c.UserID != nil && *c.UserID == userID
}
