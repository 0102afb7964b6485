// File: internal/usecase/rate_limiter.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/ports/repository"
	"paywall-access/internal/infra/metrics"
)

// RateLimiter bounds resource-reveal requests per principal. The window lives in the
// injected store; with the in-memory store it is per process and best effort.
type RateLimiter struct {
	store       repository.RateLimitStore
	maxRequests int
	window      time.Duration
	log         *zerolog.Logger
}

func NewRateLimiter(store repository.RateLimitStore, maxRequests int, window time.Duration, logger *zerolog.Logger) *RateLimiter {
	l := logger.With().Str("component", "RateLimiter").Logger()
	return &RateLimiter{store: store, maxRequests: maxRequests, window: window, log: &l}
}

// AllowReveal returns *domain.RateLimitError once the principal exhausted the window.
// Store failures let the request through.
func (r *RateLimiter) AllowReveal(ctx context.Context, principalID string) error {
	d, err := r.store.IncrementAndCheck(ctx, RevealKey(principalID), r.window, r.maxRequests)
	if err != nil {
		r.log.Warn().Err(err).Str("principal_id", principalID).Msg("rate limit store unavailable; allowing request")
		return nil
	}
	if d.Allowed {
		return nil
	}
	metrics.IncRateLimitRejection()
	return &domain.RateLimitError{RetryAfter: d.RetryAfter}
}

func RevealKey(principalID string) string {
	return "rate_limit:reveal:" + principalID
}
