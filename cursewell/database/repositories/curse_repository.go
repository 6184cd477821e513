package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cursewell/cursewell/cursewell/database/models"
	"github.com/uptrace/bun"
)

var (
	// ErrClaimLost is returned when a conditional claim update affects no
	// rows: another viewer claimed the curse first, or it left the pool.
	ErrClaimLost = errors.New("curse already claimed")

	// ErrCurseGone is returned when a conditional bless update affects no
	// rows: the curse is already blessed or was deleted.
	ErrCurseGone = errors.New("curse already blessed or deleted")
)

// eligibleFor restricts a query to curses the viewer may pull: not their
// own, not claimed, not blessed. Blocklist filtering is layered on
// separately so an empty blocklist adds no predicate at all.
func eligibleFor(q *bun.SelectQuery, viewerID int64) *bun.SelectQuery {
	return q.
		Where("blessed = FALSE").
		Where("pulled_by IS NULL").
		Where("user_id IS NULL OR user_id != ?", viewerID)
}

type CurseRepository interface {
	Create(ctx context.Context, curse *models.Curse) error
	GetByID(ctx context.Context, curseID int64) (*models.Curse, error)
	GetByIDTx(ctx context.Context, tx bun.Tx, curseID int64) (*models.Curse, error)
	GetEligible(ctx context.Context, viewerID int64, blocklist []int64) ([]*models.Curse, error)
	GetPulledBy(ctx context.Context, viewerID int64) (*models.Curse, error)
	GetBlessedByOwner(ctx context.Context, ownerID int64) ([]*models.Curse, error)
	GetBlessed(ctx context.Context) ([]*models.Curse, error)
	Claim(ctx context.Context, curseID, viewerID int64, now time.Time) error
	MarkBlessedTx(ctx context.Context, tx bun.Tx, curseID int64, blessingID int) error
	Delete(ctx context.Context, curseID int64) (*models.Curse, error)
	DeleteAbandonedAnonymous(ctx context.Context, now time.Time, stuckAfter time.Duration) (int64, error)
	ResolveStale(ctx context.Context, ownerID int64, now time.Time, pulledAfter, unclaimedAfter time.Duration) (int64, error)
	ResolveStaleAll(ctx context.Context, now time.Time, pulledAfter, unclaimedAfter time.Duration) (int64, error)
	GetCurseCount(ctx context.Context) (int, error)
}

type curseRepository struct {
	db *bun.DB
}

func NewCurseRepository(db *bun.DB) CurseRepository {
	return &curseRepository{db: db}
}

func (r *curseRepository) Create(ctx context.Context, curse *models.Curse) error {
	if curse.PulledTime.IsZero() {
		curse.PulledTime = time.Now()
	}
	_, err := r.db.NewInsert().Model(curse).Exec(ctx)
	return err
}

func (r *curseRepository) GetByID(ctx context.Context, curseID int64) (*models.Curse, error) {
	curse := new(models.Curse)
	err := r.db.NewSelect().
		Model(curse).
		Where("curse_id = ?", curseID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return curse, nil
}

func (r *curseRepository) GetByIDTx(ctx context.Context, tx bun.Tx, curseID int64) (*models.Curse, error) {
	curse := new(models.Curse)
	err := tx.NewSelect().
		Model(curse).
		Where("curse_id = ?", curseID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return curse, nil
}

// GetEligible returns the current pull candidates for a viewer, oldest
// first. The result is a fresh read every call; rows may be claimed by
// someone else before the viewer's own claim lands.
func (r *curseRepository) GetEligible(ctx context.Context, viewerID int64, blocklist []int64) ([]*models.Curse, error) {
	var curses []*models.Curse
	q := eligibleFor(r.db.NewSelect().Model(&curses), viewerID)
	if len(blocklist) > 0 {
		q = q.Where("user_id IS NULL OR user_id NOT IN (?)", bun.In(blocklist))
	}
	if err := q.Order("curse_id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to select eligible curses: %w", err)
	}
	return curses, nil
}

func (r *curseRepository) GetPulledBy(ctx context.Context, viewerID int64) (*models.Curse, error) {
	curse := new(models.Curse)
	err := r.db.NewSelect().
		Model(curse).
		Where("pulled_by = ?", viewerID).
		Where("blessed = FALSE").
		Order("pulled_time ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return curse, nil
}

func (r *curseRepository) GetBlessedByOwner(ctx context.Context, ownerID int64) ([]*models.Curse, error) {
	var curses []*models.Curse
	err := r.db.NewSelect().
		Model(&curses).
		Where("user_id = ?", ownerID).
		Where("blessed = TRUE").
		Order("curse_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return curses, nil
}

func (r *curseRepository) GetBlessed(ctx context.Context) ([]*models.Curse, error) {
	var curses []*models.Curse
	err := r.db.NewSelect().
		Model(&curses).
		Where("blessed = TRUE").
		Order("curse_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return curses, nil
}

// Claim marks a curse as pulled by the viewer. Selection and claim are one
// conditional UPDATE keyed on the full eligibility predicate, so of any
// number of concurrent claimants exactly one wins; the rest get ErrClaimLost.
func (r *curseRepository) Claim(ctx context.Context, curseID, viewerID int64, now time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.Curse)(nil)).
		Set("pulled_by = ?", viewerID).
		Set("pulled_time = ?", now).
		Where("curse_id = ?", curseID).
		Where("pulled_by IS NULL").
		Where("blessed = FALSE").
		Where("user_id IS NULL OR user_id != ?", viewerID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim curse: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// MarkBlessedTx latches blessed to true. The blessed = FALSE guard makes the
// transition one-way; a second bless of the same curse affects no rows.
func (r *curseRepository) MarkBlessedTx(ctx context.Context, tx bun.Tx, curseID int64, blessingID int) error {
	result, err := tx.NewUpdate().
		Model((*models.Curse)(nil)).
		Set("blessed = TRUE").
		Set("blessing = ?", blessingID).
		Where("curse_id = ?", curseID).
		Where("blessed = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to bless curse: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCurseGone
	}
	return nil
}

func (r *curseRepository) Delete(ctx context.Context, curseID int64) (*models.Curse, error) {
	curse := new(models.Curse)
	result, err := r.db.NewDelete().
		Model(curse).
		Where("curse_id = ?", curseID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to delete curse: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, sql.ErrNoRows
	}
	return curse, nil
}

// DeleteAbandonedAnonymous removes anonymous curses that are finished
// (blessed, with no owner to report back to) or stuck (claimed but never
// blessed within stuckAfter).
func (r *curseRepository) DeleteAbandonedAnonymous(ctx context.Context, now time.Time, stuckAfter time.Duration) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.Curse)(nil)).
		Where("user_id IS NULL").
		Where("blessed = TRUE OR (pulled_by IS NOT NULL AND pulled_time < ?)", now.Add(-stuckAfter)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete abandoned anonymous curses: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Debug("Deleted abandoned anonymous curses",
			slog.String("type", "db"),
			slog.Int64("deleted", deleted))
	}
	return deleted, nil
}

// ResolveStale force-blesses an owner's curses that nobody will finish:
// claimed but abandoned by the claimant, or never claimed at all for a long
// time. Applies the default blessing and consumes nobody's allowance.
func (r *curseRepository) ResolveStale(ctx context.Context, ownerID int64, now time.Time, pulledAfter, unclaimedAfter time.Duration) (int64, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Curse)(nil)).
		Set("blessed = TRUE").
		Set("blessing = ?", models.DefaultBlessingID).
		Where("user_id = ?", ownerID).
		Where("blessed = FALSE").
		Where("(pulled_by IS NULL AND pulled_time < ?) OR (pulled_by IS NOT NULL AND pulled_time < ?)",
			now.Add(-unclaimedAfter), now.Add(-pulledAfter)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve stale curses: %w", err)
	}
	return result.RowsAffected()
}

func (r *curseRepository) ResolveStaleAll(ctx context.Context, now time.Time, pulledAfter, unclaimedAfter time.Duration) (int64, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Curse)(nil)).
		Set("blessed = TRUE").
		Set("blessing = ?", models.DefaultBlessingID).
		Where("user_id IS NOT NULL").
		Where("blessed = FALSE").
		Where("(pulled_by IS NULL AND pulled_time < ?) OR (pulled_by IS NOT NULL AND pulled_time < ?)",
			now.Add(-unclaimedAfter), now.Add(-pulledAfter)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve stale curses: %w", err)
	}
	return result.RowsAffected()
}

func (r *curseRepository) GetCurseCount(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.Curse)(nil)).Count(ctx)
}
