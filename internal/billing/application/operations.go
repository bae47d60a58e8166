package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// SubscriptionUpdate is a partial UserSubscription transition.
// Zero values are left untouched.
type SubscriptionUpdate struct {
	Status               domain.SubscriptionStatus
	IsActive             *bool
	StripeSubscriptionID string
	StartDate            *time.Time
	EndDate              *time.Time
	NextBillingDate      *time.Time
}

// AppointmentUpdate is a partial UserAppointment transition.
type AppointmentUpdate struct {
	Status          domain.AppointmentStatus
	ScheduledDate   *time.Time
	PaymentStatus   domain.PaymentStatus
	StripeSessionID string
}

// OrderUpdate is a partial Order transition.
type OrderUpdate struct {
	Status                domain.OrderStatus
	PaymentMethod         string
	PaymentStatus         domain.PaymentStatus
	StripeSessionID       string
	StripePaymentIntentID string
	StripeCustomerID      string
}

// assignment pairs the relational column with its mirror document field.
type assignment struct {
	column string
	field  string
	value  any
}

func split(assignments []assignment) (domain.Fields, domain.Fields) {
	columns := domain.Fields{}
	fields := domain.Fields{}
	for _, a := range assignments {
		columns[a.column] = a.value
		if t, ok := a.value.(time.Time); ok {
			fields[a.field] = t.UTC().Format(time.RFC3339)
			continue
		}
		fields[a.field] = a.value
	}
	return columns, fields
}

func (u SubscriptionUpdate) assignments() []assignment {
	var out []assignment
	if u.Status != "" {
		out = append(out, assignment{"status", "status", string(u.Status)})
	}
	if u.IsActive != nil {
		out = append(out, assignment{"is_active", "isActive", *u.IsActive})
	}
	if u.StripeSubscriptionID != "" {
		out = append(out, assignment{"stripe_subscription_id", "stripeSubscriptionId", u.StripeSubscriptionID})
	}
	if u.StartDate != nil {
		out = append(out, assignment{"start_date", "startDate", *u.StartDate})
	}
	if u.EndDate != nil {
		out = append(out, assignment{"end_date", "endDate", *u.EndDate})
	}
	if u.NextBillingDate != nil {
		out = append(out, assignment{"next_billing_date", "nextBillingDate", *u.NextBillingDate})
	}
	return out
}

func (u AppointmentUpdate) assignments() []assignment {
	var out []assignment
	if u.Status != "" {
		out = append(out, assignment{"status", "status", string(u.Status)})
	}
	if u.ScheduledDate != nil {
		out = append(out, assignment{"scheduled_date", "scheduledDate", *u.ScheduledDate})
	}
	if u.PaymentStatus != "" {
		out = append(out, assignment{"payment_status", "paymentStatus", string(u.PaymentStatus)})
	}
	if u.StripeSessionID != "" {
		out = append(out, assignment{"stripe_session_id", "stripeSessionId", u.StripeSessionID})
	}
	return out
}

func (u OrderUpdate) assignments() []assignment {
	var out []assignment
	if u.Status != "" {
		out = append(out, assignment{"status", "status", string(u.Status)})
	}
	if u.PaymentMethod != "" {
		out = append(out, assignment{"payment_method", "paymentMethod", u.PaymentMethod})
	}
	if u.PaymentStatus != "" {
		out = append(out, assignment{"payment_status", "paymentStatus", string(u.PaymentStatus)})
	}
	if u.StripeSessionID != "" {
		out = append(out, assignment{"stripe_session_id", "stripeSessionId", u.StripeSessionID})
	}
	if u.StripePaymentIntentID != "" {
		out = append(out, assignment{"stripe_payment_intent_id", "stripePaymentIntentId", u.StripePaymentIntentID})
	}
	if u.StripeCustomerID != "" {
		out = append(out, assignment{"stripe_customer_id", "stripeCustomerId", u.StripeCustomerID})
	}
	return out
}

// Operations is the dual-write choke point. It is the only code that knows
// how relational columns map to mirror document fields.
//
// The relational row is always written first and the mirror only after that
// write succeeds, so the primary store is never behind the mirror.
type Operations struct {
	relational domain.RelationalStore
	documents  domain.DocumentStore
	processor  domain.Processor
	logger     *slog.Logger
}

// NewOperations creates the dual-write layer.
func NewOperations(relational domain.RelationalStore, documents domain.DocumentStore, processor domain.Processor, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		relational: relational,
		documents:  documents,
		processor:  processor,
		logger:     logger,
	}
}

// GetSubscription resolves a UserSubscription by a correlation key.
func (o *Operations) GetSubscription(ctx context.Context, keyField domain.KeyField, key string) (*domain.UserSubscription, error) {
	rec, err := o.relational.Get(ctx, domain.TableSubscriptions, keyField, key)
	if err != nil {
		return nil, err
	}
	return &domain.UserSubscription{
		ID:               rec.ID,
		StripeSessionID:  rec.StripeSessionID,
		Status:           domain.SubscriptionStatus(rec.Status),
		AppointmentsUsed: rec.AppointmentsUsed,
		MirrorID:         rec.MirrorID,
	}, nil
}

// GetAppointment resolves a UserAppointment by a correlation key.
func (o *Operations) GetAppointment(ctx context.Context, keyField domain.KeyField, key string) (*domain.UserAppointment, error) {
	rec, err := o.relational.Get(ctx, domain.TableAppointments, keyField, key)
	if err != nil {
		return nil, err
	}
	return &domain.UserAppointment{
		ID:              rec.ID,
		StripeSessionID: rec.StripeSessionID,
		Status:          domain.AppointmentStatus(rec.Status),
		ScheduledDate:   rec.ScheduledDate,
		MirrorID:        rec.MirrorID,
	}, nil
}

// UpdateSubscription dual-writes a subscription transition.
func (o *Operations) UpdateSubscription(ctx context.Context, sub *domain.UserSubscription, u SubscriptionUpdate) error {
	columns, fields := split(u.assignments())
	if err := o.relational.Update(ctx, domain.TableSubscriptions, domain.KeyID, sub.ID, columns); err != nil {
		return err
	}
	return o.patchMirror(ctx, sub.MirrorID, fields, domain.VisibilityAsync)
}

// UpdateAppointment dual-writes an appointment transition.
func (o *Operations) UpdateAppointment(ctx context.Context, appt *domain.UserAppointment, u AppointmentUpdate) error {
	columns, fields := split(u.assignments())
	if err := o.relational.Update(ctx, domain.TableAppointments, domain.KeyID, appt.ID, columns); err != nil {
		return err
	}
	return o.patchMirror(ctx, appt.MirrorID, fields, domain.VisibilityAsync)
}

// UpdateOrder writes an order transition to whichever stores have a known id.
// Either id may be empty; an order known only by its mirror document is
// written to the document store alone.
func (o *Operations) UpdateOrder(ctx context.Context, orderID, mirrorID string, u OrderUpdate) error {
	columns, fields := split(u.assignments())
	if orderID != "" {
		if err := o.relational.Update(ctx, domain.TableOrders, domain.KeyID, orderID, columns); err != nil {
			return err
		}
	}
	return o.patchMirror(ctx, mirrorID, fields, domain.VisibilitySync)
}

// ChargeAppointment consumes one included appointment from a subscription
// for appt and mirrors the subscription's count. The relational charge
// happens at most once per appointment; the mirror is written every time so
// a retry repairs a mirror that missed the count.
func (o *Operations) ChargeAppointment(ctx context.Context, appt *domain.UserAppointment, subscriptionID string) (int, bool, error) {
	sub, err := o.GetSubscription(ctx, domain.KeyID, subscriptionID)
	if err != nil {
		return 0, false, err
	}
	used, charged, err := o.relational.ChargeAppointment(ctx, appt.ID, sub.ID)
	if err != nil {
		return 0, false, err
	}
	if err := o.patchMirror(ctx, sub.MirrorID, domain.Fields{"appointmentsUsed": used}, domain.VisibilityAsync); err != nil {
		return used, charged, err
	}
	return used, charged, nil
}

// ResolveAppointment finds the appointment paid for by a checkout session.
//
// It tries, in order: the session id; the fallback appointment id; the
// appointment id stored on the session's own metadata at the processor.
// A match found by id gets the session id backfilled so the next lookup by
// session succeeds directly. ErrNotFound is returned when all three miss.
func (o *Operations) ResolveAppointment(ctx context.Context, sessionID, fallbackID string) (*domain.UserAppointment, error) {
	appt, err := o.GetAppointment(ctx, domain.KeyStripeSessionID, sessionID)
	if err == nil {
		return appt, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	if fallbackID != "" {
		appt, err := o.backfillAppointment(ctx, fallbackID, sessionID)
		if err == nil || !domain.IsNotFound(err) {
			return appt, err
		}
	}

	if o.processor == nil {
		return nil, domain.ErrNotFound
	}
	metadata, err := o.processor.RetrieveCheckoutSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	storedID := domain.ParseCheckoutMetadata(metadata).AppointmentID
	if storedID == "" || storedID == fallbackID {
		return nil, domain.ErrNotFound
	}
	return o.backfillAppointment(ctx, storedID, sessionID)
}

func (o *Operations) backfillAppointment(ctx context.Context, appointmentID, sessionID string) (*domain.UserAppointment, error) {
	appt, err := o.GetAppointment(ctx, domain.KeyID, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := o.UpdateAppointment(ctx, appt, AppointmentUpdate{StripeSessionID: sessionID}); err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "backfilled checkout session onto appointment",
		"appointment_id", appt.ID, "session_id", sessionID)
	appt.StripeSessionID = sessionID
	return appt, nil
}

func (o *Operations) patchMirror(ctx context.Context, documentID string, fields domain.Fields, visibility domain.Visibility) error {
	if documentID == "" {
		o.logger.DebugContext(ctx, "no mirror document, skipping document write")
		return nil
	}
	if o.documents == nil || len(fields) == 0 {
		return nil
	}
	if err := o.documents.Patch(ctx, documentID, fields, visibility); err != nil {
		o.logger.ErrorContext(ctx, "mirror document write failed",
			"document_id", documentID, "error", err)
		return err
	}
	return nil
}
