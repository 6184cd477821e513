package repositories

import (
	"context"

	"github.com/cursewell/cursewell/cursewell/database/models"
	"github.com/uptrace/bun"
)

type BlessingRepository interface {
	GetAll(ctx context.Context) ([]*models.Blessing, error)
	GetByID(ctx context.Context, blessingID int) (*models.Blessing, error)
	Exists(ctx context.Context, blessingID int) (bool, error)
}

type blessingRepository struct {
	db *bun.DB
}

func NewBlessingRepository(db *bun.DB) BlessingRepository {
	return &blessingRepository{db: db}
}

func (r *blessingRepository) GetAll(ctx context.Context) ([]*models.Blessing, error) {
	var blessings []*models.Blessing
	err := r.db.NewSelect().
		Model(&blessings).
		Order("blessing_id ASC").
		Scan(ctx)
	return blessings, err
}

func (r *blessingRepository) GetByID(ctx context.Context, blessingID int) (*models.Blessing, error) {
	blessing := new(models.Blessing)
	err := r.db.NewSelect().
		Model(blessing).
		Where("blessing_id = ?", blessingID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return blessing, nil
}

func (r *blessingRepository) Exists(ctx context.Context, blessingID int) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*models.Blessing)(nil)).
		Where("blessing_id = ?", blessingID).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
