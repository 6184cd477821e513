package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/cursewell/cursewell/cursewell/database/models"
	"github.com/cursewell/cursewell/cursewell/database/repositories"
)

func int64ptr(v int64) *int64 { return &v }

func TestPost(t *testing.T) {
	engine, store := testEngine(DefaultConfig())
	ctx := context.Background()

	author := store.addUser(&models.User{Username: "author", Limiter: 3})

	t.Run("attributed", func(t *testing.T) {
		curse, err := engine.Post(ctx, "may your socks always be damp", &author.ID)
		require.NoError(t, err)
		assert.NotZero(t, curse.ID)
		require.NotNil(t, curse.UserID)
		assert.Equal(t, author.ID, *curse.UserID)
		assert.Equal(t, models.CurseStatusAvailable, curse.Status())
	})

	t.Run("anonymous", func(t *testing.T) {
		curse, err := engine.Post(ctx, "may your tea always be lukewarm", nil)
		require.NoError(t, err)
		assert.True(t, curse.Anonymous())
		assert.False(t, curse.PulledTime.IsZero())
	})
}

func TestPull(t *testing.T) {
	ctx := context.Background()

	t.Run("skips own curses", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		viewer := store.addUser(&models.User{Username: "viewer", Limiter: 3})
		store.addCurse(&models.Curse{Curse: "mine", UserID: &viewer.ID})

		_, err := engine.Pull(ctx, viewer.ID)
		assert.ErrorIs(t, err, ErrNothingAvailable)
	})

	t.Run("skips blocked authors", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		author := store.addUser(&models.User{Username: "author"})
		viewer := store.addUser(&models.User{Username: "viewer", Blocklist: []int64{1}})
		store.addCurse(&models.Curse{Curse: "blocked", UserID: &author.ID})
		anon := store.addCurse(&models.Curse{Curse: "anon"})

		curse, err := engine.Pull(ctx, viewer.ID)
		require.NoError(t, err)
		assert.Equal(t, anon.ID, curse.ID)
	})

	t.Run("skips pulled and blessed", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		author := store.addUser(&models.User{Username: "author"})
		viewer := store.addUser(&models.User{Username: "viewer"})
		store.addCurse(&models.Curse{Curse: "held", UserID: &author.ID, PulledBy: int64ptr(99)})
		blessing := models.DefaultBlessingID
		store.addCurse(&models.Curse{Curse: "done", UserID: &author.ID, Blessed: true, Blessing: &blessing})

		_, err := engine.Pull(ctx, viewer.ID)
		assert.ErrorIs(t, err, ErrNothingAvailable)
	})

	t.Run("unknown viewer", func(t *testing.T) {
		engine, _ := testEngine(DefaultConfig())
		_, err := engine.Pull(ctx, 42)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("claim marks curse pulled", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		viewer := store.addUser(&models.User{Username: "viewer"})
		store.addCurse(&models.Curse{Curse: "anon"})

		curse, err := engine.Pull(ctx, viewer.ID)
		require.NoError(t, err)
		require.NotNil(t, curse.PulledBy)
		assert.Equal(t, viewer.ID, *curse.PulledBy)
		assert.Equal(t, models.CurseStatusPulled, curse.Status())

		held, err := engine.Held(ctx, viewer.ID)
		require.NoError(t, err)
		assert.Equal(t, curse.ID, held.ID)
	})
}

func TestPullConcurrentSingleWinner(t *testing.T) {
	engine, store := testEngine(DefaultConfig())
	ctx := context.Background()

	const viewers = 16
	for i := 0; i < viewers; i++ {
		store.addUser(&models.User{Username: "viewer"})
	}
	curse := store.addCurse(&models.Curse{Curse: "one for all"})

	var wg sync.WaitGroup
	winners := make(chan int64, viewers)
	for i := 1; i <= viewers; i++ {
		wg.Add(1)
		go func(viewerID int64) {
			defer wg.Done()
			got, err := engine.Pull(ctx, viewerID)
			if err == nil {
				winners <- got.ID
			} else {
				assert.ErrorIs(t, err, ErrNothingAvailable)
			}
		}(int64(i))
	}
	wg.Wait()
	close(winners)

	var claimed []int64
	for id := range winners {
		claimed = append(claimed, id)
	}
	require.Len(t, claimed, 1, "exactly one viewer should win the claim")
	assert.Equal(t, curse.ID, claimed[0])
}

func TestBless(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("spends allowance and resolves curse", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor", Limiter: 3})
		curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

		blessed, user, err := engine.Bless(ctx, actor.ID, curse.ID, 2, now)
		require.NoError(t, err)
		assert.True(t, blessed.Blessed)
		require.NotNil(t, blessed.Blessing)
		assert.Equal(t, 2, *blessed.Blessing)
		assert.Equal(t, 2, user.Limiter)
		assert.Equal(t, int64(1), user.TotalBlessings)
		require.NotNil(t, user.LastBlessing)
		assert.Equal(t, now, *user.LastBlessing)
	})

	t.Run("zero blessing normalizes to default", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor", Limiter: 3})
		curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

		blessed, _, err := engine.Bless(ctx, actor.ID, curse.ID, 0, now)
		require.NoError(t, err)
		assert.Equal(t, models.DefaultBlessingID, *blessed.Blessing)
	})

	t.Run("already blessed", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor", Limiter: 3})
		curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

		_, _, err := engine.Bless(ctx, actor.ID, curse.ID, 1, now)
		require.NoError(t, err)

		_, _, err = engine.Bless(ctx, actor.ID, curse.ID, 1, now)
		assert.ErrorIs(t, err, ErrAlreadyBlessed)

		// The failed second attempt must not touch the allowance.
		u, err := engine.users.GetByID(ctx, actor.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, u.Limiter)
		assert.Equal(t, int64(1), u.TotalBlessings)
	})

	t.Run("exhausted and not yet eligible", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		recent := now.Add(-time.Hour)
		actor := store.addUser(&models.User{Username: "actor", Limiter: 0, LastBlessing: &recent})
		curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

		_, _, err := engine.Bless(ctx, actor.ID, curse.ID, 1, now)
		assert.ErrorIs(t, err, ErrAllowanceExhausted)

		got, err := engine.curses.GetByID(ctx, curse.ID)
		require.NoError(t, err)
		assert.False(t, got.Blessed, "a failed bless must not resolve the curse")
	})

	t.Run("replenishes after a day", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		stale := now.Add(-25 * time.Hour)
		actor := store.addUser(&models.User{Username: "actor", Limiter: 0, LastBlessing: &stale})
		curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

		_, user, err := engine.Bless(ctx, actor.ID, curse.ID, 1, now)
		require.NoError(t, err)
		assert.Equal(t, models.AllowanceCeiling-1, user.Limiter)
	})

	t.Run("replenishes when never blessed", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor", Limiter: 0})
		curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

		_, user, err := engine.Bless(ctx, actor.ID, curse.ID, 1, now)
		require.NoError(t, err)
		assert.Equal(t, models.AllowanceCeiling-1, user.Limiter)
	})

	t.Run("unknown curse", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor", Limiter: 3})

		_, _, err := engine.Bless(ctx, actor.ID, 99, 1, now)
		assert.ErrorIs(t, err, ErrCurseNotFound)
	})

	t.Run("unknown actor", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		curse := store.addCurse(&models.Curse{Curse: "anon"})

		_, _, err := engine.Bless(ctx, 99, curse.ID, 1, now)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestBlessConcurrentNeverOverspends(t *testing.T) {
	engine, store := testEngine(DefaultConfig())
	ctx := context.Background()
	now := time.Now()

	actor := store.addUser(&models.User{Username: "actor", Limiter: 3})

	const attempts = 10
	curseIDs := make([]int64, attempts)
	for i := range curseIDs {
		curseIDs[i] = store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID}).ID
	}

	var wg sync.WaitGroup
	var succeeded sync.Map
	for _, id := range curseIDs {
		wg.Add(1)
		go func(curseID int64) {
			defer wg.Done()
			if _, _, err := engine.Bless(ctx, actor.ID, curseID, 1, now); err == nil {
				succeeded.Store(curseID, true)
			}
		}(id)
	}
	wg.Wait()

	var wins int
	succeeded.Range(func(_, _ any) bool { wins++; return true })
	assert.Equal(t, 3, wins, "only the allowance's worth of blessings may land")

	u, err := engine.users.GetByID(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Limiter)
	assert.Equal(t, int64(3), u.TotalBlessings)
}

// slowResetUserRepo widens the window between a competitor's eligibility
// read and its reset landing, the interleaving a row-lock wait produces on
// the real store.
type slowResetUserRepo struct {
	*memUserRepo
	delay time.Duration
}

func (r *slowResetUserRepo) ResetAllowanceTx(ctx context.Context, tx bun.Tx, userID int64, ceiling int, before time.Time) (bool, error) {
	time.Sleep(r.delay)
	return r.memUserRepo.ResetAllowanceTx(ctx, tx, userID, ceiling, before)
}

func TestBlessConcurrentReplenishesOnce(t *testing.T) {
	store := newMemStore()
	users := &slowResetUserRepo{memUserRepo: &memUserRepo{store: store}, delay: time.Millisecond}
	curses := &memCurseRepo{store: store}
	engine := NewEngine(store, users, curses, DefaultConfig())

	ctx := context.Background()
	now := time.Now()
	stale := now.Add(-25 * time.Hour)
	actor := store.addUser(&models.User{Username: "actor", Limiter: 0, LastBlessing: &stale})

	const attempts = 12
	curseIDs := make([]int64, attempts)
	for i := range curseIDs {
		curseIDs[i] = store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID}).ID
	}

	var wg sync.WaitGroup
	var wins atomic.Int64
	for _, id := range curseIDs {
		wg.Add(1)
		go func(curseID int64) {
			defer wg.Done()
			if _, _, err := engine.Bless(ctx, actor.ID, curseID, 1, now); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAllowanceExhausted)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int64(3), wins.Load(), "one replenishment window must yield at most a full allowance")

	u, err := users.GetByID(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Limiter)
	assert.Equal(t, int64(3), u.TotalBlessings)
}

// takenCurseRepo reports every bless attempt as having lost the latch race,
// as if another transaction blessed the curse between this one's read and
// its conditional update.
type takenCurseRepo struct {
	*memCurseRepo
}

func (r *takenCurseRepo) MarkBlessedTx(ctx context.Context, tx bun.Tx, curseID int64, blessingID int) error {
	return repositories.ErrCurseGone
}

func TestBlessRollsBackAllowanceWhenCurseTaken(t *testing.T) {
	store := newMemStore()
	users := &memUserRepo{store: store}
	curses := &takenCurseRepo{memCurseRepo: &memCurseRepo{store: store}}
	engine := NewEngine(store, users, curses, DefaultConfig())

	ctx := context.Background()
	actor := store.addUser(&models.User{Username: "actor", Limiter: 3})
	curse := store.addCurse(&models.Curse{Curse: "anon", PulledBy: &actor.ID})

	_, _, err := engine.Bless(ctx, actor.ID, curse.ID, 1, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyBlessed)

	// The consumed allowance must come back with the rollback.
	u, err := users.GetByID(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Limiter)
	assert.Zero(t, u.TotalBlessings)
	assert.Nil(t, u.LastBlessing)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("owner deletes own curse", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		owner := store.addUser(&models.User{Username: "owner"})
		curse := store.addCurse(&models.Curse{Curse: "mine", UserID: &owner.ID})

		deleted, err := engine.Delete(ctx, owner.ID, curse.ID)
		require.NoError(t, err)
		assert.Equal(t, curse.ID, deleted.ID)

		_, err = engine.curses.GetByID(ctx, curse.ID)
		assert.Error(t, err)
	})

	t.Run("non-owner forbidden", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		owner := store.addUser(&models.User{Username: "owner"})
		other := store.addUser(&models.User{Username: "other"})
		curse := store.addCurse(&models.Curse{Curse: "mine", UserID: &owner.ID})

		_, err := engine.Delete(ctx, other.ID, curse.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("anonymous curse has no owner", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor"})
		curse := store.addCurse(&models.Curse{Curse: "anon"})

		_, err := engine.Delete(ctx, actor.ID, curse.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown curse", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor"})

		_, err := engine.Delete(ctx, actor.ID, 99)
		assert.ErrorIs(t, err, ErrCurseNotFound)
	})
}

func TestBlockAuthor(t *testing.T) {
	ctx := context.Background()

	t.Run("blocks curse author", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		author := store.addUser(&models.User{Username: "author"})
		actor := store.addUser(&models.User{Username: "actor"})
		curse := store.addCurse(&models.Curse{Curse: "rude", UserID: &author.ID})

		blocked, err := engine.BlockAuthor(ctx, actor.ID, curse.ID)
		require.NoError(t, err)
		assert.Equal(t, author.ID, blocked)

		u, err := engine.users.GetByID(ctx, actor.ID)
		require.NoError(t, err)
		assert.True(t, u.HasBlocked(author.ID))

		// The blocked author's curses stop showing up in pulls.
		store.addCurse(&models.Curse{Curse: "rude again", UserID: &author.ID})
		_, err = engine.Pull(ctx, actor.ID)
		assert.ErrorIs(t, err, ErrNothingAvailable)
	})

	t.Run("anonymous curse cannot be blocked", func(t *testing.T) {
		engine, store := testEngine(DefaultConfig())
		actor := store.addUser(&models.User{Username: "actor"})
		curse := store.addCurse(&models.Curse{Curse: "anon"})

		_, err := engine.BlockAuthor(ctx, actor.ID, curse.ID)
		assert.ErrorIs(t, err, ErrAnonymousCurse)
	})
}
