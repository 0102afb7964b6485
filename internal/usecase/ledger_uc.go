// File: internal/usecase/ledger_uc.go
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
	"paywall-access/internal/infra/logging"
	"paywall-access/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase is the Purchase Ledger: the only writer of purchase state. Every
// transition is a conditional update on the current status.
type LedgerUseCase interface {
	// CreatePendingPurchase records a payable purchase for a processor order.
	CreatePendingPurchase(ctx context.Context, principalID string, res *model.Resource, order model.ProcessorPayment) (*model.Purchase, error)
	// GrantWithoutPayment records a completed zero-amount purchase (subscription or free).
	// Subscription grants are found-or-created per subscription.
	GrantWithoutPayment(ctx context.Context, principalID string, res *model.Resource, method model.PaymentMethod) (*model.Purchase, error)

	MarkCompleted(ctx context.Context, purchaseID, paymentID, signature string) (*model.Purchase, error)
	MarkFailed(ctx context.Context, purchaseID, reason string) error
	Expire(ctx context.Context, purchaseID string) (*model.Purchase, error)

	// HasActiveGrant returns nil, nil when the pair holds no usable one-time grant.
	HasActiveGrant(ctx context.Context, principalID, resourceID string) (*model.Purchase, error)
	// LatestGrant returns the newest grant not yet flagged expired, stale or not.
	LatestGrant(ctx context.Context, principalID, resourceID string) (*model.Purchase, error)
	// LatestSettled returns the newest completed or expired purchase.
	LatestSettled(ctx context.Context, principalID, resourceID string) (*model.Purchase, error)

	FindByID(ctx context.Context, purchaseID string) (*model.Purchase, error)
	FindByOrderID(ctx context.Context, orderID string) (*model.Purchase, error)

	// ExpireDue expires up to batch stale grants and reports how many transitioned.
	ExpireDue(ctx context.Context, batch int) (int, error)
	// FailAbandoned fails pending purchases created before now-olderThan.
	FailAbandoned(ctx context.Context, olderThan time.Duration, batch int) (int, error)
}

type LedgerConfig struct {
	GrantWindow time.Duration
	Now         func() time.Time
}

type ledgerUC struct {
	purchases   repository.PurchaseRepository
	tm          repository.TransactionManager
	grantWindow time.Duration
	now         func() time.Time
	log         *zerolog.Logger
}

func NewLedgerUseCase(purchases repository.PurchaseRepository, tm repository.TransactionManager, cfg LedgerConfig, logger *zerolog.Logger) *ledgerUC {
	if cfg.GrantWindow <= 0 {
		cfg.GrantWindow = model.DefaultGrantWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := logger.With().Str("component", "Ledger").Logger()
	return &ledgerUC{
		purchases:   purchases,
		tm:          tm,
		grantWindow: cfg.GrantWindow,
		now:         cfg.Now,
		log:         &l,
	}
}

func (u *ledgerUC) CreatePendingPurchase(ctx context.Context, principalID string, res *model.Resource, order model.ProcessorPayment) (*model.Purchase, error) {
	return u.issue(ctx, principalID, res, order)
}

func (u *ledgerUC) GrantWithoutPayment(ctx context.Context, principalID string, res *model.Resource, method model.PaymentMethod) (*model.Purchase, error) {
	if method != nil && method.Kind() == model.PaymentMethodProcessor {
		return nil, &domain.ValidationError{Field: "payment_method", Reason: "processor purchases start pending"}
	}
	return u.issue(ctx, principalID, res, method)
}

// issue is the single point where purchases are born.
func (u *ledgerUC) issue(ctx context.Context, principalID string, res *model.Resource, method model.PaymentMethod) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "Ledger.issue")()

	if principalID == "" {
		return nil, &domain.ValidationError{Field: "principal_id", Reason: "required"}
	}
	if res == nil || res.ID == "" {
		return nil, &domain.ValidationError{Field: "resource_id", Reason: "required"}
	}
	if !res.Active {
		return nil, domain.ErrNotPurchasable
	}

	now := u.now()
	p := &model.Purchase{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		ResourceID:  res.ID,
		Currency:    res.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var subscriptionID string
	switch m := method.(type) {
	case model.ProcessorPayment:
		if m.OrderID == "" {
			return nil, &domain.ValidationError{Field: "order_id", Reason: "required"}
		}
		if m.Amount <= 0 {
			return nil, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
		}
		p.PaymentMethod = model.PaymentMethodProcessor
		p.Amount = m.Amount
		if m.Currency != "" {
			p.Currency = m.Currency
		}
		p.ExternalOrderID = m.OrderID
		p.Status = model.PurchaseStatusPending
		p.ExpiryAt = now.Add(u.grantWindow)
	case model.SubscriptionPayment:
		if m.SubscriptionID == "" {
			return nil, &domain.ValidationError{Field: "subscription_id", Reason: "required"}
		}
		if !m.EndDate.After(now) {
			return nil, &domain.ValidationError{Field: "end_date", Reason: "subscription already ended"}
		}
		subscriptionID = m.SubscriptionID
		p.PaymentMethod = model.PaymentMethodSubscription
		p.ExternalOrderID = m.SubscriptionID
		p.Status = model.PurchaseStatusCompleted
		p.AccessGranted = true
		p.CompletedAt = &now
		p.ExpiryAt = m.EndDate
	case model.FreePayment:
		p.PaymentMethod = model.PaymentMethodFree
		p.Status = model.PurchaseStatusCompleted
		p.AccessGranted = true
		p.CompletedAt = &now
		p.ExpiryAt = now.Add(u.grantWindow)
	default:
		return nil, domain.ErrUnknownMethod
	}

	var out *model.Purchase
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.purchases.LockPair(ctx, tx, principalID, res.ID); err != nil {
			return err
		}

		if subscriptionID != "" {
			existing, err := u.purchases.FindSubscriptionGrant(ctx, tx, principalID, res.ID, subscriptionID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if existing != nil && existing.ActiveAt(now) {
				out = existing
				return nil
			}
		} else {
			active, err := u.purchases.FindActiveGrant(ctx, tx, principalID, res.ID, now)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if active != nil {
				return &domain.ConflictError{PurchaseID: active.ID, Reason: "active grant already exists"}
			}
		}

		if p.Status == model.PurchaseStatusPending {
			pending, err := u.purchases.FindPending(ctx, tx, principalID, res.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if pending != nil {
				if _, err := u.purchases.FailIfPending(ctx, tx, pending.ID, "superseded", now); err != nil {
					return err
				}
				metrics.IncPurchaseTransition(string(model.PurchaseStatusFailed))
			}
		}

		if err := u.purchases.Insert(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out == p {
		metrics.IncGrantIssued(string(p.PaymentMethod))
		metrics.IncPurchaseTransition(string(p.Status))
		u.log.Info().
			Str("purchase_id", p.ID).
			Str("principal_id", principalID).
			Str("resource_id", res.ID).
			Str("method", string(p.PaymentMethod)).
			Str("status", string(p.Status)).
			Time("expiry_at", p.ExpiryAt).
			Msg("purchase created")
	}
	return out, nil
}

func (u *ledgerUC) MarkCompleted(ctx context.Context, purchaseID, paymentID, signature string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "Ledger.MarkCompleted")()

	if purchaseID == "" {
		return nil, &domain.ValidationError{Field: "purchase_id", Reason: "required"}
	}
	if paymentID == "" {
		return nil, &domain.ValidationError{Field: "payment_id", Reason: "required"}
	}

	ok, err := u.purchases.CompleteIfPending(ctx, nil, purchaseID, paymentID, signature, u.now())
	if err != nil {
		return nil, err
	}
	p, err := u.purchases.FindByID(ctx, nil, purchaseID)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.IncPurchaseTransition(string(model.PurchaseStatusCompleted))
		u.log.Info().Str("purchase_id", p.ID).Str("payment_id", paymentID).Msg("purchase completed")
		return p, nil
	}

	// Someone else transitioned the record first; only an identical confirmation is benign.
	if p.ExternalPaymentID == paymentID &&
		(p.Status == model.PurchaseStatusCompleted || p.Status == model.PurchaseStatusExpired) {
		return p, nil
	}

	reason := "purchase is " + string(p.Status)
	if p.ExternalPaymentID != "" {
		reason = "payment id differs from recorded payment"
	}
	metrics.IncLedgerConflict("mark_completed")
	u.log.Error().
		Bool("security", true).
		Str("purchase_id", p.ID).
		Str("status", string(p.Status)).
		Str("recorded_payment_id", p.ExternalPaymentID).
		Str("claimed_payment_id", paymentID).
		Msg("conflicting payment confirmation; manual reconciliation required")
	return nil, &domain.ConflictError{PurchaseID: p.ID, Reason: reason}
}

func (u *ledgerUC) MarkFailed(ctx context.Context, purchaseID, reason string) error {
	if purchaseID == "" {
		return &domain.ValidationError{Field: "purchase_id", Reason: "required"}
	}
	ok, err := u.purchases.FailIfPending(ctx, nil, purchaseID, reason, u.now())
	if err != nil {
		return err
	}
	if ok {
		metrics.IncPurchaseTransition(string(model.PurchaseStatusFailed))
		u.log.Info().Str("purchase_id", purchaseID).Str("reason", reason).Msg("purchase failed")
		return nil
	}
	// not pending: a no-op, but unknown ids are still an error
	_, err = u.purchases.FindByID(ctx, nil, purchaseID)
	return err
}

func (u *ledgerUC) Expire(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	if purchaseID == "" {
		return nil, &domain.ValidationError{Field: "purchase_id", Reason: "required"}
	}
	ok, err := u.purchases.ExpireIfDue(ctx, nil, purchaseID, u.now())
	if err != nil {
		return nil, err
	}
	p, err := u.purchases.FindByID(ctx, nil, purchaseID)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.IncPurchaseTransition(string(model.PurchaseStatusExpired))
		u.log.Debug().Str("purchase_id", p.ID).Time("expiry_at", p.ExpiryAt).Msg("purchase expired")
	}
	return p, nil
}

func (u *ledgerUC) HasActiveGrant(ctx context.Context, principalID, resourceID string) (*model.Purchase, error) {
	p, err := u.purchases.FindActiveGrant(ctx, nil, principalID, resourceID, u.now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (u *ledgerUC) LatestGrant(ctx context.Context, principalID, resourceID string) (*model.Purchase, error) {
	p, err := u.purchases.FindLatestGranted(ctx, nil, principalID, resourceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (u *ledgerUC) LatestSettled(ctx context.Context, principalID, resourceID string) (*model.Purchase, error) {
	p, err := u.purchases.FindLatestSettled(ctx, nil, principalID, resourceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (u *ledgerUC) FindByID(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	return u.purchases.FindByID(ctx, nil, purchaseID)
}

func (u *ledgerUC) FindByOrderID(ctx context.Context, orderID string) (*model.Purchase, error) {
	return u.purchases.FindByOrderID(ctx, nil, orderID)
}

func (u *ledgerUC) ExpireDue(ctx context.Context, batch int) (int, error) {
	due, err := u.purchases.ListDueForExpiry(ctx, nil, u.now(), batch)
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
	for _, p := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := u.purchases.ExpireIfDue(ctx, nil, p.ID, u.now())
		if err != nil {
			u.log.Warn().Err(err).Str("purchase_id", p.ID).Msg("expire failed; retrying next pass")
			errs = append(errs, err)
			continue
		}
		if ok {
			metrics.IncPurchaseTransition(string(model.PurchaseStatusExpired))
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (u *ledgerUC) FailAbandoned(ctx context.Context, olderThan time.Duration, batch int) (int, error) {
	cutoff := u.now().Add(-olderThan)
	pending, err := u.purchases.ListPendingOlderThan(ctx, nil, cutoff, batch)
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
	for _, p := range pending {
		ok, err := u.purchases.FailIfPending(ctx, nil, p.ID, "abandoned", u.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			metrics.IncPurchaseTransition(string(model.PurchaseStatusFailed))
			n++
		}
	}
	return n, errors.Join(errs...)
}
