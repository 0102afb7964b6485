package repository

import (
	"context"
	"time"

	"paywall-access/internal/domain/model"
)

// SubscriptionRepository is the port behind the Subscription Registry.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Subscription, error)
	// FindActiveByPrincipal returns the principal's active subscription whose window
	// contains now.
	FindActiveByPrincipal(ctx context.Context, tx Tx, principalID string, now time.Time) (*model.Subscription, error)
	UpdateStatusIf(ctx context.Context, tx Tx, id string, from, to model.SubscriptionStatus) (bool, error)
	ListDueForExpiry(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
}
