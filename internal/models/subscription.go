package models

import "time"

type PlanType string

const (
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"
)

func (p PlanType) Valid() bool {
	return p == PlanBasic || p == PlanPremium
}

type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == BillingMonthly || c == BillingYearly
}

// Period is the length of one paid term.
func (c BillingCycle) Period() time.Duration {
	if c == BillingYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

type Subscription struct {
	ID               string
	UserID           string
	PlanType         PlanType
	BillingCycle     BillingCycle
	Status           SubscriptionStatus
	StartDate        time.Time
	EndDate          time.Time
	PaymentReference *string
	Amount           int64
	Currency         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// GrantsAccess reports whether the subscription entitles its owner at now.
// The stored status is not swept in real time, so the end date is always checked.
func (s Subscription) GrantsAccess(now time.Time) bool {
	return s.Status == SubscriptionActive && s.EndDate.After(now)
}
