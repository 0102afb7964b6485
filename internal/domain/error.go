package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotPurchasable    = errors.New("resource is not purchasable")
	ErrConflict          = errors.New("conflict")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrUpstream          = errors.New("upstream unavailable")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnknownMethod     = errors.New("unknown payment method")
	ErrAccessDenied      = errors.New("access denied")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrLockNotAcquired   = errors.New("lock not acquired")

	// Storage errors
	ErrOperationFailed    = errors.New("database operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// ValidationError reports a malformed or missing request field. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// ConflictError is security relevant: operators reconcile these by hand.
type ConflictError struct {
	PurchaseID string
	Reason     string
}

func (e *ConflictError) Error() string {
	if e.PurchaseID == "" {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict on purchase %s: %s", e.PurchaseID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UpstreamError wraps a failed or timed out call to an external collaborator.
// Callers retry with backoff.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// RateLimitError carries how long the caller has to wait before the window frees a slot.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds up so a client never retries early.
func (e *RateLimitError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 1
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
