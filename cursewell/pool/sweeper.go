package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/cursewell/cursewell/cursewell/database/repositories"
)

// SweepConfig holds the reclamation thresholds. All predicates are
// monotonic in time, so re-running a sweep is always safe.
type SweepConfig struct {
	// Interval between background passes.
	Interval time.Duration
	// AnonymousStuckAfter is how long a claimed anonymous curse may sit
	// unblessed before it is considered abandoned and deleted.
	AnonymousStuckAfter time.Duration
	// OwnerPulledAfter is how long a claimed owned curse may sit unblessed
	// before it is auto-resolved with the default blessing.
	OwnerPulledAfter time.Duration
	// OwnerUnclaimedAfter is how long an owned curse may go unclaimed
	// before it is auto-resolved.
	OwnerUnclaimedAfter time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:            15 * time.Minute,
		AnonymousStuckAfter: time.Hour,
		OwnerPulledAfter:    time.Hour,
		OwnerUnclaimedAfter: 48 * time.Hour,
	}
}

// SweepStats reports what one pass changed.
type SweepStats struct {
	AnonymousDeleted int64
	OwnedResolved    int64
}

// Sweeper reclaims stuck and completed curses. Safe to run concurrently
// with user traffic and idempotent once converged.
type Sweeper struct {
	curses repositories.CurseRepository
	cfg    SweepConfig
}

func NewSweeper(curses repositories.CurseRepository, cfg SweepConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.AnonymousStuckAfter <= 0 {
		cfg.AnonymousStuckAfter = time.Hour
	}
	if cfg.OwnerPulledAfter <= 0 {
		cfg.OwnerPulledAfter = time.Hour
	}
	if cfg.OwnerUnclaimedAfter <= 0 {
		cfg.OwnerUnclaimedAfter = 48 * time.Hour
	}
	return &Sweeper{curses: curses, cfg: cfg}
}

// Sweep runs both reclamation rules once. A failure aborts this pass only;
// the next pass picks up whatever was missed.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats

	deleted, err := s.curses.DeleteAbandonedAnonymous(ctx, now, s.cfg.AnonymousStuckAfter)
	if err != nil {
		return stats, err
	}
	stats.AnonymousDeleted = deleted

	resolved, err := s.curses.ResolveStaleAll(ctx, now, s.cfg.OwnerPulledAfter, s.cfg.OwnerUnclaimedAfter)
	if err != nil {
		return stats, err
	}
	stats.OwnedResolved = resolved

	if stats.AnonymousDeleted > 0 || stats.OwnedResolved > 0 {
		slog.Info("Reclamation sweep finished",
			slog.String("type", "sys"),
			slog.Int64("anonymous_deleted", stats.AnonymousDeleted),
			slog.Int64("owned_resolved", stats.OwnedResolved))
	}
	return stats, nil
}

// ResolveStale runs the owner auto-resolution rule for a single owner, used
// inline when that owner next interacts.
func (s *Sweeper) ResolveStale(ctx context.Context, ownerID int64, now time.Time) (int64, error) {
	return s.curses.ResolveStale(ctx, ownerID, now, s.cfg.OwnerPulledAfter, s.cfg.OwnerUnclaimedAfter)
}

// Start runs sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				slog.Error("Reclamation sweep failed",
					slog.String("type", "sys"),
					slog.Any("error", err))
			}
		}
	}
}
