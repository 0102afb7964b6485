package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `
id, principal_id, plan_id, external_id, resource_classes, status, start_date, end_date, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if s == nil || s.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  plan_id=$3, resource_classes=$5, status=$6, start_date=$7, end_date=$8, updated_at=$10;`

	classes := s.ResourceClasses
	if classes == nil {
		classes = []string{}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.PrincipalID, s.PlanID, s.ExternalID, classes, string(s.Status),
		s.StartDate, s.EndDate, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		err = mapErr(err)
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			ce.Reason = "principal already has an active subscription"
		}
		return err
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_id=$1;`
	return r.queryOne(ctx, tx, q, externalID)
}

func (r *subscriptionRepo) FindActiveByPrincipal(ctx context.Context, tx repository.Tx, principalID string, now time.Time) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE principal_id=$1 AND status='active'
   AND start_date <= $2 AND end_date > $2
 ORDER BY end_date DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, principalID, now)
}

func (r *subscriptionRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id string, from, to model.SubscriptionStatus) (bool, error) {
	const q = `
UPDATE subscriptions
   SET status=$3, updated_at=NOW()
 WHERE id=$1 AND status=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(from), string(to))
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) ListDueForExpiry(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='active' AND end_date <= $1
 ORDER BY end_date ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	s, err := scanSub(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func scanSub(row pgx.Row) (*model.Subscription, error) {
	var (
		s      model.Subscription
		status string
	)
	if err := row.Scan(
		&s.ID, &s.PrincipalID, &s.PlanID, &s.ExternalID, &s.ResourceClasses, &status,
		&s.StartDate, &s.EndDate, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}
