package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cursewell/cursewell/cursewell/database/models"
	"github.com/cursewell/cursewell/cursewell/database/repositories"
	"github.com/uptrace/bun"
)

// TxRunner runs a function inside a database transaction. *bun.DB satisfies
// this; tests substitute a stub.
type TxRunner interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error
}

// Config holds the blessing policy knobs.
type Config struct {
	// AllowanceCeiling is the limiter value restored on replenishment.
	AllowanceCeiling int
	// ReplenishAfter is how long after a user's last blessing they become
	// eligible to replenish an exhausted allowance.
	ReplenishAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		AllowanceCeiling: models.AllowanceCeiling,
		ReplenishAfter:   24 * time.Hour,
	}
}

// Engine is the single authority for curse state transitions. It holds no
// curse state of its own between calls; everything lives in the store.
type Engine struct {
	db     TxRunner
	users  repositories.UserRepository
	curses repositories.CurseRepository
	cfg    Config
}

func NewEngine(db TxRunner, users repositories.UserRepository, curses repositories.CurseRepository, cfg Config) *Engine {
	if cfg.AllowanceCeiling <= 0 {
		cfg.AllowanceCeiling = models.AllowanceCeiling
	}
	if cfg.ReplenishAfter <= 0 {
		cfg.ReplenishAfter = 24 * time.Hour
	}
	return &Engine{db: db, users: users, curses: curses, cfg: cfg}
}

// Post adds a curse to the pool. A nil userID posts anonymously. The text is
// expected to be validated by the caller.
func (e *Engine) Post(ctx context.Context, text string, userID *int64) (*models.Curse, error) {
	curse := &models.Curse{
		Curse:      text,
		UserID:     userID,
		PulledTime: time.Now(),
	}
	if err := e.curses.Create(ctx, curse); err != nil {
		return nil, fmt.Errorf("failed to post curse: %w", err)
	}
	return curse, nil
}

// Pull claims one curse for the viewer. Candidates are read without locks
// and may be claimed by someone else first; each claim is an atomic
// conditional update, and a lost race just moves on to the next candidate.
func (e *Engine) Pull(ctx context.Context, viewerID int64) (*models.Curse, error) {
	viewer, err := e.users.GetByID(ctx, viewerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	candidates, err := e.curses.GetEligible(ctx, viewer.ID, viewer.Blocklist)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, candidate := range candidates {
		err := e.curses.Claim(ctx, candidate.ID, viewer.ID, now)
		if errors.Is(err, repositories.ErrClaimLost) {
			continue
		}
		if err != nil {
			return nil, err
		}

		candidate.PulledBy = &viewer.ID
		candidate.PulledTime = now
		return candidate, nil
	}

	return nil, ErrNothingAvailable
}

// Held returns the curse the viewer currently holds pulled-but-unblessed,
// or ErrNothingAvailable. Lets the caller layer hand the same curse back
// instead of claiming another.
func (e *Engine) Held(ctx context.Context, viewerID int64) (*models.Curse, error) {
	curse, err := e.curses.GetPulledBy(ctx, viewerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNothingAvailable
		}
		return nil, err
	}
	return curse, nil
}

// Bless resolves a curse with the given blessing and spends one unit of the
// actor's allowance. Allowance consumption and the curse transition happen
// in one transaction: both land or neither does. An exhausted allowance is
// replenished first when the actor's last blessing is old enough.
func (e *Engine) Bless(ctx context.Context, actorID, curseID int64, blessingID int, now time.Time) (*models.Curse, *models.User, error) {
	if blessingID <= 0 {
		blessingID = models.DefaultBlessingID
	}

	var (
		curse *models.Curse
		actor *models.User
	)

	err := e.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error

		actor, err = e.users.GetByIDTx(ctx, tx, actorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}

		curse, err = e.curses.GetByIDTx(ctx, tx, curseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrCurseNotFound
			}
			return err
		}
		if curse.Blessed {
			return ErrAlreadyBlessed
		}

		if !actor.HasAllowance() {
			// The eligibility check lives in the conditional update, not
			// here: whether the limiter is still exhausted and the window
			// has elapsed must be decided against committed state, or
			// concurrent blesses could each restore the ceiling. Zero rows
			// is fine; the consume below settles it.
			if _, err := e.users.ResetAllowanceTx(ctx, tx, actor.ID, e.cfg.AllowanceCeiling, now.Add(-e.cfg.ReplenishAfter)); err != nil {
				return err
			}
		}

		if err := e.users.ConsumeAllowanceTx(ctx, tx, actor.ID, now); err != nil {
			if errors.Is(err, repositories.ErrNoAllowance) {
				return ErrAllowanceExhausted
			}
			return err
		}

		if err := e.curses.MarkBlessedTx(ctx, tx, curse.ID, blessingID); err != nil {
			if errors.Is(err, repositories.ErrCurseGone) {
				return ErrAlreadyBlessed
			}
			return err
		}

		actor, err = e.users.GetByIDTx(ctx, tx, actorID)
		if err != nil {
			return err
		}
		curse.Blessed = true
		curse.Blessing = &blessingID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Debug("Curse blessed",
		slog.String("type", "sys"),
		slog.Int64("curse_id", curse.ID),
		slog.Int64("actor_id", actor.ID),
		slog.Int("blessing_id", blessingID),
		slog.Int("limiter", actor.Limiter))
	return curse, actor, nil
}

// Delete removes a curse. Only the identified author may delete; anonymous
// curses have no owner and can only leave the pool through reclamation.
func (e *Engine) Delete(ctx context.Context, actorID, curseID int64) (*models.Curse, error) {
	curse, err := e.curses.GetByID(ctx, curseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCurseNotFound
		}
		return nil, err
	}
	if !curse.OwnedBy(actorID) {
		return nil, ErrForbidden
	}

	deleted, err := e.curses.Delete(ctx, curseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCurseNotFound
		}
		return nil, err
	}
	return deleted, nil
}

// BlessedCurses returns the resolved curses authored by the given user.
func (e *Engine) BlessedCurses(ctx context.Context, ownerID int64) ([]*models.Curse, error) {
	return e.curses.GetBlessedByOwner(ctx, ownerID)
}

// BlockAuthor adds the author of the given curse to the actor's blocklist
// and returns the blocked user id.
func (e *Engine) BlockAuthor(ctx context.Context, actorID, curseID int64) (int64, error) {
	curse, err := e.curses.GetByID(ctx, curseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrCurseNotFound
		}
		return 0, err
	}
	if curse.Anonymous() {
		return 0, ErrAnonymousCurse
	}

	if err := e.users.AddToBlocklist(ctx, actorID, *curse.UserID); err != nil {
		return 0, err
	}
	return *curse.UserID, nil
}
