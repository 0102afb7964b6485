// File: internal/usecase/registry_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/repository"
)

var _ SubscriptionRegistry = (*registryUC)(nil)

// SubscriptionRegistry tracks unlimited-access windows per principal.
type SubscriptionRegistry interface {
	// ActiveFor returns nil, nil when the principal has no open window.
	ActiveFor(ctx context.Context, principalID string) (*model.Subscription, error)
	// Activate starts or extends the subscription identified by externalID. Any other
	// active subscription of the principal is cancelled.
	Activate(ctx context.Context, in ActivateSubscriptionInput) (*model.Subscription, error)
	Cancel(ctx context.Context, externalID string) error
	ExpireByExternalID(ctx context.Context, externalID string) error
	// FinishExpired expires active subscriptions whose window closed.
	FinishExpired(ctx context.Context, batch int) (int, error)
}

type ActivateSubscriptionInput struct {
	PrincipalID     string
	PlanID          string
	ExternalID      string
	ResourceClasses []string
	Start           time.Time
	End             time.Time
}

type registryUC struct {
	subs repository.SubscriptionRepository
	tm   repository.TransactionManager
	now  func() time.Time
	log  *zerolog.Logger
}

func NewSubscriptionRegistry(subs repository.SubscriptionRepository, tm repository.TransactionManager, now func() time.Time, logger *zerolog.Logger) *registryUC {
	if now == nil {
		now = time.Now
	}
	l := logger.With().Str("component", "SubscriptionRegistry").Logger()
	return &registryUC{subs: subs, tm: tm, now: now, log: &l}
}

func (u *registryUC) ActiveFor(ctx context.Context, principalID string) (*model.Subscription, error) {
	sub, err := u.subs.FindActiveByPrincipal(ctx, nil, principalID, u.now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

func (u *registryUC) Activate(ctx context.Context, in ActivateSubscriptionInput) (*model.Subscription, error) {
	if in.PrincipalID == "" {
		return nil, &domain.ValidationError{Field: "principal_id", Reason: "required"}
	}
	if in.ExternalID == "" {
		return nil, &domain.ValidationError{Field: "subscription_id", Reason: "required"}
	}
	if !in.End.After(in.Start) {
		return nil, &domain.ValidationError{Field: "end_date", Reason: "must be after start"}
	}

	var out *model.Subscription
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.subs.FindByExternalID(ctx, tx, in.ExternalID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil && existing.PrincipalID != in.PrincipalID {
			return &domain.ConflictError{Reason: "subscription belongs to another principal"}
		}

		current, err := u.subs.FindActiveByPrincipal(ctx, tx, in.PrincipalID, u.now())
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if current != nil && (existing == nil || current.ID != existing.ID) {
			if _, err := u.subs.UpdateStatusIf(ctx, tx, current.ID, model.SubscriptionStatusActive, model.SubscriptionStatusCancelled); err != nil {
				return err
			}
			u.log.Info().Str("subscription_id", current.ID).Msg("superseded by new subscription")
		}

		if existing != nil {
			if existing.Status == model.SubscriptionStatusExpired {
				return &domain.ConflictError{Reason: "subscription already expired"}
			}
			if in.End.After(existing.EndDate) {
				existing.EndDate = in.End
			}
			if len(in.ResourceClasses) > 0 {
				existing.ResourceClasses = in.ResourceClasses
			}
			existing.Status = model.SubscriptionStatusActive
			existing.UpdatedAt = u.now()
			out = existing
			return u.subs.Save(ctx, tx, existing)
		}

		sub, err := model.NewSubscription(uuid.NewString(), in.PrincipalID, in.PlanID, in.ExternalID, in.ResourceClasses, in.Start, in.End)
		if err != nil {
			return err
		}
		out = sub
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().
		Str("subscription_id", out.ID).
		Str("principal_id", out.PrincipalID).
		Time("end_date", out.EndDate).
		Msg("subscription active")
	return out, nil
}

func (u *registryUC) Cancel(ctx context.Context, externalID string) error {
	return u.transition(ctx, externalID, model.SubscriptionStatusCancelled)
}

func (u *registryUC) ExpireByExternalID(ctx context.Context, externalID string) error {
	return u.transition(ctx, externalID, model.SubscriptionStatusExpired)
}

func (u *registryUC) transition(ctx context.Context, externalID string, to model.SubscriptionStatus) error {
	sub, err := u.subs.FindByExternalID(ctx, nil, externalID)
	if err != nil {
		return err
	}
	ok, err := u.subs.UpdateStatusIf(ctx, nil, sub.ID, model.SubscriptionStatusActive, to)
	if err != nil {
		return err
	}
	if ok {
		u.log.Info().Str("subscription_id", sub.ID).Str("status", string(to)).Msg("subscription closed")
	}
	return nil
}

func (u *registryUC) FinishExpired(ctx context.Context, batch int) (int, error) {
	due, err := u.subs.ListDueForExpiry(ctx, nil, u.now(), batch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, s := range due {
		ok, err := u.subs.UpdateStatusIf(ctx, nil, s.ID, model.SubscriptionStatusActive, model.SubscriptionStatusExpired)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}
