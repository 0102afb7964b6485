package model

import (
	"time"

	"paywall-access/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Subscription is an unlimited-access window for a principal. At most one is active
// per principal.
type Subscription struct {
	ID              string
	PrincipalID     string
	PlanID          string
	ExternalID      string   // processor subscription id
	ResourceClasses []string // empty means every class
	Status          SubscriptionStatus
	StartDate       time.Time
	EndDate         time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSubscription creates an active subscription window.
func NewSubscription(id, principalID, planID, externalID string, classes []string, start, end time.Time) (*Subscription, error) {
	if id == "" || principalID == "" || planID == "" || !end.After(start) {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:              id,
		PrincipalID:     principalID,
		PlanID:          planID,
		ExternalID:      externalID,
		ResourceClasses: classes,
		Status:          SubscriptionStatusActive,
		StartDate:       start,
		EndDate:         end,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ActiveAt reports whether the window is open at now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && !now.Before(s.StartDate) && now.Before(s.EndDate)
}

// Covers reports whether the subscription entitles the given resource class.
func (s *Subscription) Covers(class string) bool {
	if len(s.ResourceClasses) == 0 {
		return true
	}
	for _, c := range s.ResourceClasses {
		if c == class {
			return true
		}
	}
	return false
}
