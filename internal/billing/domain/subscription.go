package domain

import "time"

// SubscriptionStatus is the internal lifecycle state of a UserSubscription.
type SubscriptionStatus string

const (
	SubscriptionPending    SubscriptionStatus = "pending"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCancelled  SubscriptionStatus = "cancelled"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionPaused     SubscriptionStatus = "paused"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionExpired    SubscriptionStatus = "expired"
)

type statusMapping struct {
	status SubscriptionStatus
	active bool
}

// processorStatuses maps the processor's subscription statuses to internal ones.
var processorStatuses = map[string]statusMapping{
	"active":             {SubscriptionActive, true},
	"past_due":           {SubscriptionPastDue, true},
	"canceled":           {SubscriptionCancelled, false},
	"unpaid":             {SubscriptionUnpaid, false},
	"paused":             {SubscriptionPaused, false},
	"trialing":           {SubscriptionTrialing, true},
	"incomplete":         {SubscriptionIncomplete, false},
	"incomplete_expired": {SubscriptionExpired, false},
}

// MapSubscriptionStatus translates a processor subscription status into the
// internal status and its is-active flag. Unknown statuses pass through
// unchanged and are never active.
func MapSubscriptionStatus(external string) (SubscriptionStatus, bool) {
	if m, ok := processorStatuses[external]; ok {
		return m.status, m.active
	}
	return SubscriptionStatus(external), false
}

// UserSubscription is a customer's subscription to a recurring plan.
type UserSubscription struct {
	ID                   string
	UserID               string
	StripeSubscriptionID string
	StripeSessionID      string
	Status               SubscriptionStatus
	IsActive             bool
	StartDate            *time.Time
	EndDate              *time.Time
	NextBillingDate      *time.Time
	AppointmentsUsed     int
	MirrorID             string
}

// BillingSubscription is the processor's confirmed view of a subscription.
type BillingSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	StartDate        time.Time
	CurrentPeriodEnd time.Time
}

// PeriodEnd returns the current period end, falling back to one month after
// the start date when the processor did not supply one. The second return
// value reports whether the fallback was used.
func (s BillingSubscription) PeriodEnd() (time.Time, bool) {
	if !s.CurrentPeriodEnd.IsZero() {
		return s.CurrentPeriodEnd, false
	}
	return s.StartDate.AddDate(0, 1, 0), true
}
