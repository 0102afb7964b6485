package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/repository"
)

var _ repository.ResourceRepository = (*resourceRepo)(nil)

// resourceRepo reads the catalog. The catalog is managed outside the paywall; Upsert exists for seeding.
type resourceRepo struct {
	pool *pgxpool.Pool
}

func NewResourceRepo(pool *pgxpool.Pool) *resourceRepo {
	return &resourceRepo{pool: pool}
}

func (r *resourceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Resource, error) {
	const q = `
SELECT id, storage_key, class, price, currency, active
  FROM resources
 WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, mapErr(err)
	}
	var res model.Resource
	if err := row.Scan(&res.ID, &res.StorageKey, &res.Class, &res.Price, &res.Currency, &res.Active); err != nil {
		return nil, mapErr(err)
	}
	return &res, nil
}

// Upsert writes a catalog entry. Only dev seeding uses it.
func (r *resourceRepo) Upsert(ctx context.Context, tx repository.Tx, res *model.Resource) error {
	const q = `
INSERT INTO resources (id, storage_key, class, price, currency, active)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  storage_key=EXCLUDED.storage_key,
  class=EXCLUDED.class,
  price=EXCLUDED.price,
  currency=EXCLUDED.currency,
  active=EXCLUDED.active;`
	_, err := execSQL(ctx, r.pool, tx, q, res.ID, res.StorageKey, res.Class, res.Price, res.Currency, res.Active)
	return mapErr(err)
}
