// File: internal/usecase/access_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/adapter"
	"paywall-access/internal/domain/ports/repository"
	"paywall-access/internal/infra/logging"
)

var _ AccessUseCase = (*accessUC)(nil)

// AccessUseCase backs the /access HTTP surface.
type AccessUseCase interface {
	CreateOrder(ctx context.Context, principalID, resourceID string) (*CreateOrderResult, error)
	Verify(ctx context.Context, principalID string, in VerifyInput) (*model.Purchase, error)
	Status(ctx context.Context, principalID, resourceID string) (*AccessStatus, error)
	Reveal(ctx context.Context, principalID, resourceID string) (*RevealResult, error)
}

type CreateOrderResult struct {
	Order    *adapter.Order // nil when no payment is needed
	Purchase *model.Purchase
}

type VerifyInput struct {
	OrderID    string
	PaymentID  string
	Signature  string
	PurchaseID string
}

type AccessStatus struct {
	HasAccess  bool
	IsExpired  bool
	Kind       model.AccessKind
	ExpiryDate *time.Time
}

type RevealResult struct {
	URL        string
	ExpiryDate time.Time
	TTL        time.Duration
}

// URLPolicy caps signed URL lifetimes per grant channel.
type URLPolicy struct {
	OneTimeMaxTTL      time.Duration
	SubscriptionMaxTTL time.Duration
}

type AccessConfig struct {
	URLPolicy     URLPolicy
	ProcessorCall time.Duration // bound on each outbound processor call
	StorageCall   time.Duration
	Currency      string // used when a resource carries none
	VerifyCapture bool
	Dev           bool
	Now           func() time.Time
}

type accessUC struct {
	resources repository.ResourceRepository
	ledger    LedgerUseCase
	resolver  *AccessResolver
	verifier  *PaymentVerifier
	limiter   *RateLimiter
	processor adapter.PaymentProcessor
	issuer    adapter.SignedURLIssuer
	cfg       AccessConfig
	log       *zerolog.Logger
}

func NewAccessUseCase(
	resources repository.ResourceRepository,
	ledger LedgerUseCase,
	resolver *AccessResolver,
	verifier *PaymentVerifier,
	limiter *RateLimiter,
	processor adapter.PaymentProcessor,
	issuer adapter.SignedURLIssuer,
	cfg AccessConfig,
	logger *zerolog.Logger,
) *accessUC {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ProcessorCall <= 0 {
		cfg.ProcessorCall = 10 * time.Second
	}
	if cfg.StorageCall <= 0 {
		cfg.StorageCall = 5 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.URLPolicy.OneTimeMaxTTL <= 0 {
		cfg.URLPolicy.OneTimeMaxTTL = 300 * time.Second
	}
	if cfg.URLPolicy.SubscriptionMaxTTL <= 0 {
		cfg.URLPolicy.SubscriptionMaxTTL = time.Hour
	}
	l := logger.With().Str("component", "AccessUC").Logger()
	return &accessUC{
		resources: resources,
		ledger:    ledger,
		resolver:  resolver,
		verifier:  verifier,
		limiter:   limiter,
		processor: processor,
		issuer:    issuer,
		cfg:       cfg,
		log:       &l,
	}
}

func (u *accessUC) resource(ctx context.Context, resourceID string) (*model.Resource, error) {
	if resourceID == "" {
		return nil, &domain.ValidationError{Field: "resourceId", Reason: "required"}
	}
	return u.resources.FindByID(ctx, nil, resourceID)
}

func (u *accessUC) CreateOrder(ctx context.Context, principalID, resourceID string) (*CreateOrderResult, error) {
	res, err := u.resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !res.Active {
		return nil, domain.ErrNotPurchasable
	}

	// an existing grant (subscription or one-time) short-circuits checkout
	if d := u.resolver.Resolve(ctx, principalID, res); d.HasAccess() {
		return &CreateOrderResult{Purchase: d.Purchase}, nil
	}

	if res.Free() {
		p, err := u.ledger.GrantWithoutPayment(ctx, principalID, res, model.FreePayment{})
		if err != nil {
			return nil, err
		}
		return &CreateOrderResult{Purchase: p}, nil
	}

	currency := res.Currency
	if currency == "" {
		currency = u.cfg.Currency
	}
	receipt := ulid.MustNew(ulid.Timestamp(u.cfg.Now()), rand.Reader).String()
	callCtx, cancel := context.WithTimeout(ctx, u.cfg.ProcessorCall)
	order, err := u.processor.CreateOrder(callCtx, res.Price, currency, receipt)
	cancel()
	if err != nil {
		// no purchase row exists yet, so nothing is left payable
		var up *domain.UpstreamError
		if !errors.As(err, &up) {
			err = &domain.UpstreamError{Op: "create_order", Err: err}
		}
		return nil, err
	}

	p, err := u.ledger.CreatePendingPurchase(ctx, principalID, res, model.ProcessorPayment{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
	})
	if err != nil {
		return nil, err
	}
	return &CreateOrderResult{Order: order, Purchase: p}, nil
}

func (u *accessUC) Verify(ctx context.Context, principalID string, in VerifyInput) (*model.Purchase, error) {
	switch {
	case in.OrderID == "":
		return nil, &domain.ValidationError{Field: "orderId", Reason: "required"}
	case in.PaymentID == "":
		return nil, &domain.ValidationError{Field: "paymentId", Reason: "required"}
	case in.Signature == "":
		return nil, &domain.ValidationError{Field: "signature", Reason: "required"}
	case in.PurchaseID == "":
		return nil, &domain.ValidationError{Field: "purchaseId", Reason: "required"}
	}
	log := logging.With(ctx, u.log)

	p, err := u.ledger.FindByID(ctx, in.PurchaseID)
	if err != nil {
		return nil, err
	}
	if p.PrincipalID != principalID {
		return nil, domain.ErrNotFound
	}
	if p.ExternalOrderID != in.OrderID {
		log.Warn().Bool("security", true).Str("purchase_id", p.ID).Msg("order id does not match purchase")
		return nil, &domain.ConflictError{PurchaseID: p.ID, Reason: "order id does not match purchase"}
	}

	if !u.verifier.VerifyDirect(in.OrderID, in.PaymentID, in.Signature) {
		log.Warn().
			Bool("security", true).
			Str("purchase_id", p.ID).
			Str("payment_id", logging.Redact(in.PaymentID, u.cfg.Dev)).
			Msg("payment signature mismatch")
		return nil, errors.Join(domain.ErrSignatureMismatch, &domain.ConflictError{PurchaseID: p.ID, Reason: "signature mismatch"})
	}

	if u.cfg.VerifyCapture {
		callCtx, cancel := context.WithTimeout(ctx, u.cfg.ProcessorCall)
		details, err := u.processor.FetchPayment(callCtx, in.PaymentID)
		cancel()
		if err != nil {
			var up *domain.UpstreamError
			if !errors.As(err, &up) {
				err = &domain.UpstreamError{Op: "fetch_payment", Err: err}
			}
			return nil, err
		}
		if details.OrderID != in.OrderID {
			return nil, &domain.ConflictError{PurchaseID: p.ID, Reason: "payment belongs to another order"}
		}
		if !details.Captured() {
			return nil, &domain.UpstreamError{Op: "fetch_payment", Err: errors.New("payment not captured yet")}
		}
	}

	return u.ledger.MarkCompleted(ctx, p.ID, in.PaymentID, in.Signature)
}

func (u *accessUC) Status(ctx context.Context, principalID, resourceID string) (*AccessStatus, error) {
	res, err := u.resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	d := u.resolver.Resolve(ctx, principalID, res)
	st := &AccessStatus{HasAccess: d.HasAccess(), IsExpired: d.Expired, Kind: d.Kind}
	if d.HasAccess() {
		exp := d.ExpiryAt
		st.ExpiryDate = &exp
	}
	return st, nil
}

func (u *accessUC) Reveal(ctx context.Context, principalID, resourceID string) (*RevealResult, error) {
	if err := u.limiter.AllowReveal(ctx, principalID); err != nil {
		return nil, err
	}
	res, err := u.resource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	d := u.resolver.Resolve(ctx, principalID, res)
	if !d.HasAccess() {
		return nil, domain.ErrAccessDenied
	}

	ttl := u.cfg.URLPolicy.TTL(d, u.cfg.Now())
	if ttl <= 0 {
		return nil, domain.ErrAccessDenied
	}
	callCtx, cancel := context.WithTimeout(ctx, u.cfg.StorageCall)
	url, err := u.issuer.IssueSignedURL(callCtx, res.StorageKey, ttl)
	cancel()
	if err != nil {
		var up *domain.UpstreamError
		if !errors.As(err, &up) {
			err = &domain.UpstreamError{Op: "issue_signed_url", Err: err}
		}
		return nil, err
	}
	return &RevealResult{URL: url, ExpiryDate: d.ExpiryAt, TTL: ttl}, nil
}

// TTL is the remaining grant time capped by the channel maximum. Whole seconds only,
// since storage backends sign with second precision.
func (p URLPolicy) TTL(d model.AccessDecision, now time.Time) time.Duration {
	var limit time.Duration
	switch d.Kind {
	case model.AccessOneTime:
		limit = p.OneTimeMaxTTL
	case model.AccessSubscription:
		limit = p.SubscriptionMaxTTL
	default:
		return 0
	}
	remaining := d.ExpiryAt.Sub(now).Truncate(time.Second)
	if remaining < limit {
		return remaining
	}
	return limit
}
