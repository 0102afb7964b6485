package model

import "time"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"   // order created at processor; awaiting confirmation
	PurchaseStatusCompleted PurchaseStatus = "completed" // payment confirmed; access granted until ExpiryAt
	PurchaseStatusFailed    PurchaseStatus = "failed"    // processor failure, abandoned or superseded checkout
	PurchaseStatusRefunded  PurchaseStatus = "refunded"  // administrative terminal state
	PurchaseStatusExpired   PurchaseStatus = "expired"   // grant window elapsed
)

// DefaultGrantWindow bounds one-time grants.
const DefaultGrantWindow = 300 * time.Second

// Terminal reports whether no automated transition leaves this status.
func (s PurchaseStatus) Terminal() bool {
	switch s {
	case PurchaseStatusFailed, PurchaseStatusRefunded, PurchaseStatusExpired:
		return true
	}
	return false
}

// Purchase is the ledger record of a single access grant. Rows are never deleted.
// Only Status, AccessGranted, AccessExpired (and the confirmation fields set together
// with the pending->completed transition) change after creation.
type Purchase struct {
	ID                string
	PrincipalID       string
	ResourceID        string
	Amount            int64  // minor units
	Currency          string // ISO 4217
	PaymentMethod     PaymentMethodKind
	ExternalOrderID   string // processor order id, or subscription id for subscription grants
	ExternalPaymentID string // set once, by the first successful confirmation
	ExternalSignature string
	Status            PurchaseStatus
	AccessGranted     bool
	AccessExpired     bool
	FailureReason     string
	CreatedAt         time.Time
	ExpiryAt          time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

// ActiveAt reports whether the grant is usable at now.
func (p *Purchase) ActiveAt(now time.Time) bool {
	return p.Status == PurchaseStatusCompleted && p.AccessGranted && !p.AccessExpired && p.ExpiryAt.After(now)
}

// DueForExpiry reports whether a completed grant has outlived its window but
// still carries stale flags.
func (p *Purchase) DueForExpiry(now time.Time) bool {
	return p.Status == PurchaseStatusCompleted && !p.AccessExpired && !p.ExpiryAt.After(now)
}

// Remaining is the time left on the grant, never negative.
func (p *Purchase) Remaining(now time.Time) time.Duration {
	d := p.ExpiryAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
