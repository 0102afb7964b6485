package repository

import (
	"context"
	"time"
)

// RateDecision is the outcome of one IncrementAndCheck call.
type RateDecision struct {
	Allowed bool
	// RetryAfter is how long until the oldest request in the window leaves it.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// RateLimitStore records a request under key and decides whether it fits in a sliding
// window of max requests. Rejected requests are not recorded.
type RateLimitStore interface {
	IncrementAndCheck(ctx context.Context, key string, window time.Duration, max int) (RateDecision, error)
}
