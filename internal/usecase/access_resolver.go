// File: internal/usecase/access_resolver.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"paywall-access/internal/domain/model"
	"paywall-access/internal/infra/logging"
	"paywall-access/internal/infra/metrics"
)

// maxHealPasses bounds how many stale grants one read may expire.
const maxHealPasses = 3

// AccessResolver turns Registry and Ledger state into one access decision. It never
// returns an error: anything it cannot resolve is no-access.
type AccessResolver struct {
	registry SubscriptionRegistry
	ledger   LedgerUseCase
	now      func() time.Time
	log      *zerolog.Logger
}

func NewAccessResolver(registry SubscriptionRegistry, ledger LedgerUseCase, now func() time.Time, logger *zerolog.Logger) *AccessResolver {
	if now == nil {
		now = time.Now
	}
	l := logger.With().Str("component", "AccessResolver").Logger()
	return &AccessResolver{registry: registry, ledger: ledger, now: now, log: &l}
}

func (r *AccessResolver) Resolve(ctx context.Context, principalID string, res *model.Resource) model.AccessDecision {
	d := r.resolve(ctx, principalID, res)
	metrics.IncAccessDecision(string(d.Kind))
	return d
}

func (r *AccessResolver) resolve(ctx context.Context, principalID string, res *model.Resource) model.AccessDecision {
	none := model.AccessDecision{Kind: model.AccessNone}
	if principalID == "" || res == nil {
		return none
	}
	log := logging.With(ctx, r.log).With().Str("resource_id", res.ID).Logger()

	sub, err := r.registry.ActiveFor(ctx, principalID)
	if err != nil {
		log.Error().Err(err).Msg("subscription lookup failed; denying")
		return none
	}
	if sub != nil && sub.Covers(res.Class) {
		// every subscription access leaves an auditable purchase row
		p, err := r.ledger.GrantWithoutPayment(ctx, principalID, res, model.SubscriptionPayment{
			SubscriptionID: sub.ID,
			EndDate:        sub.EndDate,
		})
		if err != nil {
			log.Error().Err(err).Str("subscription_id", sub.ID).Msg("subscription grant not recorded; denying")
			return none
		}
		return model.AccessDecision{
			Kind:         model.AccessSubscription,
			ExpiryAt:     sub.EndDate,
			Purchase:     p,
			Subscription: sub,
		}
	}

	expired := false
	for i := 0; i < maxHealPasses; i++ {
		g, err := r.ledger.LatestGrant(ctx, principalID, res.ID)
		if err != nil {
			log.Error().Err(err).Msg("grant lookup failed; denying")
			return none
		}
		if g == nil {
			break
		}
		if g.ActiveAt(r.now()) {
			return model.AccessDecision{Kind: model.AccessOneTime, ExpiryAt: g.ExpiryAt, Purchase: g}
		}
		// stale flags: expire before answering
		if _, err := r.ledger.Expire(ctx, g.ID); err != nil {
			log.Error().Err(err).Str("purchase_id", g.ID).Msg("self-healing expiry failed; denying")
			return model.AccessDecision{Kind: model.AccessNone, Expired: true}
		}
		metrics.IncSelfHealedExpiry()
		expired = true
	}

	if !expired {
		last, err := r.ledger.LatestSettled(ctx, principalID, res.ID)
		if err != nil {
			log.Warn().Err(err).Msg("settled lookup failed")
		} else if last != nil && last.AccessExpired {
			expired = true
		}
	}
	return model.AccessDecision{Kind: model.AccessNone, Expired: expired}
}
