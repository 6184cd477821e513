package pool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/cursewell/cursewell/cursewell/database/models"
	"github.com/cursewell/cursewell/cursewell/database/repositories"
)

// memStore is an in-memory stand-in for the Postgres store. Every mutating
// method takes the store lock, so the conditional updates keep their
// single-winner behavior under concurrent callers.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users       map[int64]*models.User
	curses      map[int64]*models.Curse
	nextUserID  int64
	nextCurseID int64
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[int64]*models.User),
		curses: make(map[int64]*models.Curse),
	}
}

// RunInTx satisfies TxRunner. Transactions serialize on a dedicated lock
// and snapshot the store up front; an error restores the snapshot, so a
// transaction body either lands whole or not at all, matching what the
// real store gets from Postgres.
func (s *memStore) RunInTx(ctx context.Context, _ *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	users := make(map[int64]*models.User, len(s.users))
	for id, u := range s.users {
		users[id] = copyUser(u)
	}
	curses := make(map[int64]*models.Curse, len(s.curses))
	for id, c := range s.curses {
		curses[id] = copyCurse(c)
	}
	s.mu.Unlock()

	if err := fn(ctx, bun.Tx{}); err != nil {
		s.mu.Lock()
		s.users = users
		s.curses = curses
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) addUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u.ID = s.nextUserID
	s.users[u.ID] = u
	return u
}

func (s *memStore) addCurse(c *models.Curse) *models.Curse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCurseID++
	c.ID = s.nextCurseID
	if c.PulledTime.IsZero() {
		c.PulledTime = time.Now()
	}
	s.curses[c.ID] = c
	return c
}

func copyUser(u *models.User) *models.User {
	cp := *u
	cp.Blocklist = append([]int64(nil), u.Blocklist...)
	return &cp
}

func copyCurse(c *models.Curse) *models.Curse {
	cp := *c
	return &cp
}

type memUserRepo struct {
	store *memStore
}

var _ repositories.UserRepository = (*memUserRepo)(nil)

func (r *memUserRepo) Create(ctx context.Context, user *models.User) error {
	r.store.addUser(user)
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyUser(u), nil
}

func (r *memUserRepo) GetByIDTx(ctx context.Context, _ bun.Tx, userID int64) (*models.User, error) {
	return r.GetByID(ctx, userID)
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range r.store.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) HasUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, err
}

func (r *memUserRepo) AddToBlocklist(ctx context.Context, userID, blockedID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	if !u.HasBlocked(blockedID) {
		u.Blocklist = append(u.Blocklist, blockedID)
	}
	return nil
}

func (r *memUserRepo) ConsumeAllowanceTx(ctx context.Context, _ bun.Tx, userID int64, t time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[userID]
	if !ok || u.Limiter <= 0 {
		return repositories.ErrNoAllowance
	}
	u.Limiter--
	u.TotalBlessings++
	ts := t
	u.LastBlessing = &ts
	return nil
}

func (r *memUserRepo) ResetAllowanceTx(ctx context.Context, _ bun.Tx, userID int64, ceiling int, before time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.users[userID]
	if !ok || u.Limiter > 0 {
		return false, nil
	}
	if u.LastBlessing != nil && !u.LastBlessing.Before(before) {
		return false, nil
	}
	u.Limiter = ceiling
	return true, nil
}

func (r *memUserRepo) GetUserCount(ctx context.Context) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return len(r.store.users), nil
}

type memCurseRepo struct {
	store *memStore
}

var _ repositories.CurseRepository = (*memCurseRepo)(nil)

func (r *memCurseRepo) Create(ctx context.Context, curse *models.Curse) error {
	r.store.addCurse(curse)
	return nil
}

func (r *memCurseRepo) GetByID(ctx context.Context, curseID int64) (*models.Curse, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.curses[curseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyCurse(c), nil
}

func (r *memCurseRepo) GetByIDTx(ctx context.Context, _ bun.Tx, curseID int64) (*models.Curse, error) {
	return r.GetByID(ctx, curseID)
}

func eligible(c *models.Curse, viewerID int64, blocklist []int64) bool {
	if c.Blessed || c.PulledBy != nil {
		return false
	}
	if c.UserID == nil {
		return true
	}
	if *c.UserID == viewerID {
		return false
	}
	for _, blocked := range blocklist {
		if *c.UserID == blocked {
			return false
		}
	}
	return true
}

func (r *memCurseRepo) GetEligible(ctx context.Context, viewerID int64, blocklist []int64) ([]*models.Curse, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Curse
	for id := int64(1); id <= r.store.nextCurseID; id++ {
		c, ok := r.store.curses[id]
		if ok && eligible(c, viewerID, blocklist) {
			out = append(out, copyCurse(c))
		}
	}
	return out, nil
}

func (r *memCurseRepo) GetPulledBy(ctx context.Context, viewerID int64) (*models.Curse, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id := int64(1); id <= r.store.nextCurseID; id++ {
		c, ok := r.store.curses[id]
		if ok && !c.Blessed && c.PulledBy != nil && *c.PulledBy == viewerID {
			return copyCurse(c), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memCurseRepo) GetBlessedByOwner(ctx context.Context, ownerID int64) ([]*models.Curse, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Curse
	for id := int64(1); id <= r.store.nextCurseID; id++ {
		c, ok := r.store.curses[id]
		if ok && c.Blessed && c.OwnedBy(ownerID) {
			out = append(out, copyCurse(c))
		}
	}
	return out, nil
}

func (r *memCurseRepo) GetBlessed(ctx context.Context) ([]*models.Curse, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Curse
	for id := int64(1); id <= r.store.nextCurseID; id++ {
		c, ok := r.store.curses[id]
		if ok && c.Blessed {
			out = append(out, copyCurse(c))
		}
	}
	return out, nil
}

func (r *memCurseRepo) Claim(ctx context.Context, curseID, viewerID int64, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.curses[curseID]
	if !ok || !eligible(c, viewerID, nil) {
		return repositories.ErrClaimLost
	}
	c.PulledBy = &viewerID
	c.PulledTime = now
	return nil
}

func (r *memCurseRepo) MarkBlessedTx(ctx context.Context, _ bun.Tx, curseID int64, blessingID int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.curses[curseID]
	if !ok || c.Blessed {
		return repositories.ErrCurseGone
	}
	c.Blessed = true
	c.Blessing = &blessingID
	return nil
}

func (r *memCurseRepo) Delete(ctx context.Context, curseID int64) (*models.Curse, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.curses[curseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(r.store.curses, curseID)
	return c, nil
}

func (r *memCurseRepo) DeleteAbandonedAnonymous(ctx context.Context, now time.Time, stuckAfter time.Duration) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var deleted int64
	for id, c := range r.store.curses {
		if c.UserID != nil {
			continue
		}
		if c.Blessed || (c.PulledBy != nil && c.PulledTime.Before(now.Add(-stuckAfter))) {
			delete(r.store.curses, id)
			deleted++
		}
	}
	return deleted, nil
}

func staleOwned(c *models.Curse, now time.Time, pulledAfter, unclaimedAfter time.Duration) bool {
	if c.UserID == nil || c.Blessed {
		return false
	}
	if c.PulledBy == nil {
		return c.PulledTime.Before(now.Add(-unclaimedAfter))
	}
	return c.PulledTime.Before(now.Add(-pulledAfter))
}

func (r *memCurseRepo) ResolveStale(ctx context.Context, ownerID int64, now time.Time, pulledAfter, unclaimedAfter time.Duration) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var resolved int64
	for _, c := range r.store.curses {
		if c.OwnedBy(ownerID) && staleOwned(c, now, pulledAfter, unclaimedAfter) {
			blessing := models.DefaultBlessingID
			c.Blessed = true
			c.Blessing = &blessing
			resolved++
		}
	}
	return resolved, nil
}

func (r *memCurseRepo) ResolveStaleAll(ctx context.Context, now time.Time, pulledAfter, unclaimedAfter time.Duration) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var resolved int64
	for _, c := range r.store.curses {
		if staleOwned(c, now, pulledAfter, unclaimedAfter) {
			blessing := models.DefaultBlessingID
			c.Blessed = true
			c.Blessing = &blessing
			resolved++
		}
	}
	return resolved, nil
}

func (r *memCurseRepo) GetCurseCount(ctx context.Context) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return len(r.store.curses), nil
}

// testEngine builds an engine over a fresh in-memory store.
func testEngine(cfg Config) (*Engine, *memStore) {
	store := newMemStore()
	users := &memUserRepo{store: store}
	curses := &memCurseRepo{store: store}
	return NewEngine(store, users, curses, cfg), store
}
