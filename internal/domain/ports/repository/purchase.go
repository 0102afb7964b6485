package repository

import (
	"context"
	"time"

	"paywall-access/internal/domain/model"
)

// PurchaseRepository is the durable store behind the Purchase Ledger. Every state change
// is a conditional update on the current status; the bool result reports whether this
// call performed the transition.
type PurchaseRepository interface {
	Insert(ctx context.Context, tx Tx, p *model.Purchase) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Purchase, error)
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.Purchase, error)
	// The three grant lookups below skip subscription-derived rows: those grant access
	// only while the Subscription Registry reports the subscription active.

	// FindActiveGrant returns the most recent completed, unexpired grant with ExpiryAt > now.
	FindActiveGrant(ctx context.Context, tx Tx, principalID, resourceID string, now time.Time) (*model.Purchase, error)
	// FindLatestGranted returns the most recent completed grant not yet flagged expired,
	// regardless of ExpiryAt. Used to self-heal stale grants.
	FindLatestGranted(ctx context.Context, tx Tx, principalID, resourceID string) (*model.Purchase, error)
	// FindLatestSettled returns the most recent completed or expired purchase for the pair.
	FindLatestSettled(ctx context.Context, tx Tx, principalID, resourceID string) (*model.Purchase, error)
	FindPending(ctx context.Context, tx Tx, principalID, resourceID string) (*model.Purchase, error)
	// FindSubscriptionGrant returns the completed grant derived from the given subscription.
	FindSubscriptionGrant(ctx context.Context, tx Tx, principalID, resourceID, subscriptionID string) (*model.Purchase, error)
	// LockPair serializes writers for a (principal, resource) pair until tx ends.
	LockPair(ctx context.Context, tx Tx, principalID, resourceID string) error

	CompleteIfPending(ctx context.Context, tx Tx, id, paymentID, signature string, at time.Time) (bool, error)
	FailIfPending(ctx context.Context, tx Tx, id, reason string, at time.Time) (bool, error)
	ExpireIfDue(ctx context.Context, tx Tx, id string, now time.Time) (bool, error)

	ListDueForExpiry(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Purchase, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Purchase, error)
}
