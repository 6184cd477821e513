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
	// ErrNoAllowance is returned when an atomic allowance consume finds the
	// limiter already at zero.
	ErrNoAllowance = errors.New("no blessing allowance remaining")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID int64) (*models.User, error)
	GetByIDTx(ctx context.Context, tx bun.Tx, userID int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	HasUsername(ctx context.Context, username string) (bool, error)
	AddToBlocklist(ctx context.Context, userID, blockedID int64) error
	ConsumeAllowanceTx(ctx context.Context, tx bun.Tx, userID int64, t time.Time) error
	ResetAllowanceTx(ctx context.Context, tx bun.Tx, userID int64, ceiling int, before time.Time) (bool, error)
	GetUserCount(ctx context.Context) (int, error)
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(user).Exec(ctx)
	return err
}

func (r *userRepository) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("Database error when getting user",
				slog.String("type", "db"),
				slog.String("operation", "GetByID"),
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()))
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByIDTx(ctx context.Context, tx bun.Tx, userID int64) (*models.User, error) {
	user := new(models.User)
	err := tx.NewSelect().
		Model(user).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("username = ?", username).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) HasUsername(ctx context.Context, username string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("username = ?", username).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddToBlocklist appends an author to the user's blocklist. The containment
// guard makes the append idempotent under concurrent block actions.
func (r *userRepository) AddToBlocklist(ctx context.Context, userID, blockedID int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("blocklist = COALESCE(blocklist, '[]'::jsonb) || to_jsonb(?::bigint)", blockedID).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("NOT COALESCE(blocklist, '[]'::jsonb) @> to_jsonb(?::bigint)", blockedID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update blocklist: %w", err)
	}
	return nil
}

// ConsumeAllowanceTx spends one blessing: the limiter guard and the three
// audit mutations are a single conditional UPDATE, so concurrent requests
// from the same user can never drive the limiter below zero.
func (r *userRepository) ConsumeAllowanceTx(ctx context.Context, tx bun.Tx, userID int64, t time.Time) error {
	result, err := tx.NewUpdate().
		Model((*models.User)(nil)).
		Set("limiter = limiter - 1").
		Set("totalblessings = totalblessings + 1").
		Set("lastblessing = ?", t).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("limiter > 0").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume allowance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoAllowance
	}
	return nil
}

// ResetAllowanceTx replenishes an exhausted allowance. Eligibility is
// re-checked inside the update itself, so concurrent blesses in the same
// replenishment window cannot each restore the ceiling: the first one wins
// and every later attempt affects zero rows. Zero rows is not an error; it
// means the limiter is not exhausted or the window has not elapsed.
func (r *userRepository) ResetAllowanceTx(ctx context.Context, tx bun.Tx, userID int64, ceiling int, before time.Time) (bool, error) {
	result, err := tx.NewUpdate().
		Model((*models.User)(nil)).
		Set("limiter = ?", ceiling).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("limiter <= 0").
		Where("lastblessing IS NULL OR lastblessing < ?", before).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reset allowance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (r *userRepository) GetUserCount(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.User)(nil)).Count(ctx)
}
