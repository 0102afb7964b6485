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

var _ repository.PurchaseRepository = (*purchaseRepo)(nil)

type purchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *purchaseRepo {
	return &purchaseRepo{pool: pool}
}

const purchaseColumns = `
id, principal_id, resource_id, amount, currency, payment_method, external_order_id,
external_payment_id, external_signature, status, access_granted, access_expired,
failure_reason, created_at, expiry_at, completed_at, updated_at`

func (r *purchaseRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO purchases (` + purchaseColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.PrincipalID, p.ResourceID, p.Amount, p.Currency, string(p.PaymentMethod), p.ExternalOrderID,
		p.ExternalPaymentID, p.ExternalSignature, string(p.Status), p.AccessGranted, p.AccessExpired,
		p.FailureReason, p.CreatedAt, p.ExpiryAt, p.CompletedAt, p.UpdatedAt,
	)
	if err != nil {
		err = mapErr(err)
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			ce.PurchaseID = p.ID
			ce.Reason = "pending purchase already exists"
		}
		return err
	}
	return nil
}

func (r *purchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	const q = `SELECT ` + purchaseColumns + ` FROM purchases WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *purchaseRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE external_order_id=$1 AND payment_method='processor'
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, orderID)
}

func (r *purchaseRepo) FindActiveGrant(ctx context.Context, tx repository.Tx, principalID, resourceID string, now time.Time) (*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE principal_id=$1 AND resource_id=$2
   AND payment_method<>'subscription'
   AND status='completed' AND access_granted AND NOT access_expired
   AND expiry_at > $3
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, principalID, resourceID, now)
}

func (r *purchaseRepo) FindLatestGranted(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE principal_id=$1 AND resource_id=$2
   AND payment_method<>'subscription'
   AND status='completed' AND NOT access_expired
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, principalID, resourceID)
}

func (r *purchaseRepo) FindLatestSettled(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE principal_id=$1 AND resource_id=$2
   AND payment_method<>'subscription'
   AND status IN ('completed','expired')
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, principalID, resourceID)
}

func (r *purchaseRepo) FindPending(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE principal_id=$1 AND resource_id=$2 AND status='pending'
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, principalID, resourceID)
}

func (r *purchaseRepo) FindSubscriptionGrant(ctx context.Context, tx repository.Tx, principalID, resourceID, subscriptionID string) (*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE principal_id=$1 AND resource_id=$2
   AND payment_method='subscription' AND external_order_id=$3
   AND status='completed'
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, principalID, resourceID, subscriptionID)
}

// LockPair takes a transaction-scoped advisory lock. Outside a transaction it would be
// released immediately, so a tx is required.
func (r *purchaseRepo) LockPair(ctx context.Context, tx repository.Tx, principalID, resourceID string) error {
	if _, ok := tx.(pgx.Tx); !ok {
		return domain.ErrInvalidExecContext
	}
	const q = `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2));`
	_, err := execSQL(ctx, r.pool, tx, q, principalID, resourceID)
	return mapErr(err)
}

func (r *purchaseRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, id, paymentID, signature string, at time.Time) (bool, error) {
	const q = `
UPDATE purchases
   SET status='completed', access_granted=TRUE,
       external_payment_id=$2, external_signature=$3,
       completed_at=$4, updated_at=$4
 WHERE id=$1 AND status='pending';`
	return r.transition(ctx, tx, q, id, paymentID, signature, at)
}

func (r *purchaseRepo) FailIfPending(ctx context.Context, tx repository.Tx, id, reason string, at time.Time) (bool, error) {
	const q = `
UPDATE purchases
   SET status='failed', failure_reason=$2, updated_at=$3
 WHERE id=$1 AND status='pending';`
	return r.transition(ctx, tx, q, id, reason, at)
}

func (r *purchaseRepo) ExpireIfDue(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	const q = `
UPDATE purchases
   SET status='expired', access_granted=FALSE, access_expired=TRUE, updated_at=$2
 WHERE id=$1 AND status='completed' AND NOT access_expired AND expiry_at <= $2;`
	return r.transition(ctx, tx, q, id, now)
}

func (r *purchaseRepo) ListDueForExpiry(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE status='completed' AND NOT access_expired AND expiry_at <= $1
 ORDER BY expiry_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *purchaseRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	const q = `
SELECT ` + purchaseColumns + `
  FROM purchases
 WHERE status='pending' AND created_at < $1
 ORDER BY created_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, olderThan, limit)
}

func (r *purchaseRepo) transition(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *purchaseRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Purchase, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	p, err := scanPurchase(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (r *purchaseRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var (
		p              model.Purchase
		method, status string
		completedAt    *time.Time
	)
	if err := row.Scan(
		&p.ID, &p.PrincipalID, &p.ResourceID, &p.Amount, &p.Currency, &method, &p.ExternalOrderID,
		&p.ExternalPaymentID, &p.ExternalSignature, &status, &p.AccessGranted, &p.AccessExpired,
		&p.FailureReason, &p.CreatedAt, &p.ExpiryAt, &completedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.PaymentMethod = model.PaymentMethodKind(method)
	p.Status = model.PurchaseStatus(status)
	p.CompletedAt = completedAt
	return &p, nil
}
