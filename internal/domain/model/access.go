package model

import "time"

type AccessKind string

const (
	AccessNone         AccessKind = "none"
	AccessOneTime      AccessKind = "one_time"
	AccessSubscription AccessKind = "subscription"
)

// AccessDecision is the Access Resolver's answer for a (principal, resource) pair.
type AccessDecision struct {
	Kind     AccessKind
	ExpiryAt time.Time // zero for AccessNone
	// Expired is set when the latest grant for the pair has lapsed.
	Expired      bool
	Purchase     *Purchase
	Subscription *Subscription
}

func (d AccessDecision) HasAccess() bool { return d.Kind != AccessNone }
