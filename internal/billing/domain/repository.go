package domain

import (
	"context"
	"time"
)

// Table names the relational tables this service transitions.
type Table string

const (
	TableSubscriptions Table = "user_subscriptions"
	TableAppointments  Table = "user_appointments"
	TableOrders        Table = "orders"
)

// KeyField names the columns a record may be looked up by.
type KeyField string

const (
	KeyID                   KeyField = "id"
	KeyStripeSubscriptionID KeyField = "stripe_subscription_id"
	KeyStripeSessionID      KeyField = "stripe_session_id"
)

// Fields is a partial column (or document field) assignment.
type Fields map[string]any

// Record is the subset of a row callers need after a lookup.
type Record struct {
	ID               string
	MirrorID         string
	Status           string
	StripeSessionID  string
	AppointmentsUsed int

	// ScheduledDate is set for appointments that have a date.
	ScheduledDate *time.Time
}

// RelationalStore is the primary system of record. It never inserts rows.
type RelationalStore interface {
	// Update applies fields to the row where keyField = key. It fails with a
	// DatastoreError wrapping ErrNotFound when no row matches.
	Update(ctx context.Context, table Table, keyField KeyField, key string, fields Fields) error

	// Get returns the row where keyField = key, or ErrNotFound.
	Get(ctx context.Context, table Table, keyField KeyField, key string) (*Record, error)

	// ChargeAppointment consumes one included appointment from a subscription
	// on behalf of an appointment, at most once per appointment. It returns
	// the subscription's counter and whether this call consumed the allowance.
	ChargeAppointment(ctx context.Context, appointmentID, subscriptionID string) (used int, charged bool, err error)
}

// Visibility controls when a committed document patch becomes readable.
type Visibility string

const (
	// VisibilitySync returns only after the write is queryable.
	VisibilitySync Visibility = "sync"
	// VisibilityAsync returns once the write is accepted.
	VisibilityAsync Visibility = "async"
)

// DocumentStore holds the mirror documents kept in sync with relational rows.
type DocumentStore interface {
	Patch(ctx context.Context, documentID string, fields Fields, visibility Visibility) error
}

// Processor is the payment processor's command and query surface.
type Processor interface {
	RetrieveSubscription(ctx context.Context, id string) (*BillingSubscription, error)
	RetrieveCheckoutSessionMetadata(ctx context.Context, id string) (map[string]string, error)
	// EnsureCustomer returns the customer registered for email, creating one
	// only when none exists.
	EnsureCustomer(ctx context.Context, email string) (string, error)
}

// Clock returns the current time; handlers take one so tests can pin dates.
type Clock func() time.Time
