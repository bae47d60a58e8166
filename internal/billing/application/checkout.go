package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// CheckoutSessionCompleted confirms the purchase a checkout session was
// opened for: a subscription, a one-time appointment, or an order.
func (h *Handlers) CheckoutSessionCompleted(ctx context.Context, payload json.RawMessage) Result {
	const op = "checkout.completed"

	var session checkoutSessionPayload
	if err := decode(payload, &session); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	if session.ID == "" {
		return fail(ctx, h.logger, op, missingField("id"))
	}
	logger := h.logger.With("session_id", session.ID, "mode", session.Mode)

	if !session.settled() {
		// Delayed payment methods confirm through async_payment_succeeded.
		logger.InfoContext(ctx, "checkout session not paid yet, awaiting async payment",
			"payment_status", session.PaymentStatus)
		return ok("awaiting payment")
	}

	customerID := string(session.Customer)
	if customerID == "" {
		if email := session.contactEmail(); email != "" {
			id, err := h.processor.EnsureCustomer(ctx, email)
			if err != nil {
				return fail(ctx, logger, op, err)
			}
			customerID = id
		}
	}

	meta := domain.ParseCheckoutMetadata(session.Metadata)
	switch purchase := meta.Classify(session.Mode).(type) {
	case domain.SubscriptionPurchase:
		return h.completeSubscriptionPurchase(ctx, logger, session, purchase)
	case domain.AppointmentPurchase:
		return h.completeAppointmentPurchase(ctx, logger, session, purchase)
	case domain.OrderPurchase:
		return h.completeOrder(ctx, logger, session, purchase, customerID)
	default:
		logger.InfoContext(ctx, "checkout session matches no purchase type, ignoring")
		return ok("no purchase to reconcile")
	}
}

func (h *Handlers) completeSubscriptionPurchase(ctx context.Context, logger *slog.Logger, session checkoutSessionPayload, purchase domain.SubscriptionPurchase) Result {
	const op = "checkout.subscription"

	if session.Subscription == "" {
		return fail(ctx, logger, op, missingField("subscription"))
	}
	billing, err := h.processor.RetrieveSubscription(ctx, string(session.Subscription))
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	sub, err := h.ops.GetSubscription(ctx, domain.KeyStripeSessionID, session.ID)
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	if billing.StartDate.IsZero() {
		billing.StartDate = h.now()
	}
	start := billing.StartDate.UTC()
	end, fallback := billing.PeriodEnd()
	end = end.UTC()
	if fallback {
		logger.WarnContext(ctx, "billing subscription has no period end, assuming one month",
			"stripe_subscription_id", billing.ID)
	}

	err = h.ops.UpdateSubscription(ctx, sub, SubscriptionUpdate{
		Status:               domain.SubscriptionActive,
		IsActive:             boolPtr(true),
		StripeSubscriptionID: billing.ID,
		StartDate:            &start,
		EndDate:              &end,
		NextBillingDate:      &end,
	})
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	logger.InfoContext(ctx, "subscription activated",
		"subscription_id", sub.ID, "product_id", purchase.ProductID, "stripe_subscription_id", billing.ID)
	return transitioned("subscription activated", "subscription", sub.ID)
}

func (h *Handlers) completeAppointmentPurchase(ctx context.Context, logger *slog.Logger, session checkoutSessionPayload, purchase domain.AppointmentPurchase) Result {
	const op = "checkout.appointment"

	appt, err := h.ops.ResolveAppointment(ctx, session.ID, purchase.AppointmentID)
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	// A redelivery keeps the date already given and re-sends it, so a mirror
	// that missed the first write converges.
	scheduled := domain.PlaceholderScheduleDate(h.now()).UTC()
	if appt.Status == domain.AppointmentScheduled && appt.ScheduledDate != nil {
		scheduled = appt.ScheduledDate.UTC()
	}
	err = h.ops.UpdateAppointment(ctx, appt, AppointmentUpdate{
		Status:        domain.AppointmentScheduled,
		ScheduledDate: &scheduled,
		PaymentStatus: domain.PaymentPaid,
	})
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	if purchase.UsesEntitlement() {
		used, charged, err := h.ops.ChargeAppointment(ctx, appt, purchase.SourceSubscriptionID)
		if err != nil {
			return fail(ctx, logger, op, err)
		}
		logger.InfoContext(ctx, "appointment drawn from subscription allowance",
			"subscription_id", purchase.SourceSubscriptionID, "appointments_used", used, "newly_charged", charged)
	}

	// Exam and identity verification start on the patient's first visit, not here.
	logger.InfoContext(ctx, "appointment scheduled, verification deferred to first access",
		"appointment_id", appt.ID, "user_id", purchase.UserID)
	return transitioned("appointment scheduled", "appointment", appt.ID)
}

func (h *Handlers) completeOrder(ctx context.Context, logger *slog.Logger, session checkoutSessionPayload, purchase domain.OrderPurchase, customerID string) Result {
	const op = "checkout.order"

	err := h.ops.UpdateOrder(ctx, purchase.OrderID, purchase.MirrorID, OrderUpdate{
		Status:                domain.OrderPaid,
		PaymentMethod:         domain.PaymentMethodStripe,
		PaymentStatus:         domain.PaymentPaid,
		StripeSessionID:       session.ID,
		StripePaymentIntentID: string(session.PaymentIntent),
		StripeCustomerID:      customerID,
	})
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	id := purchase.OrderID
	if id == "" {
		id = purchase.MirrorID
	}
	logger.InfoContext(ctx, "order paid", "order_id", purchase.OrderID, "mirror_id", purchase.MirrorID)
	return transitioned("order paid", "order", id)
}

// CheckoutAsyncPaymentFailed records a delayed payment that did not go
// through on the order or appointment the session was opened for.
// Subscription payments fail through invoice events instead.
func (h *Handlers) CheckoutAsyncPaymentFailed(ctx context.Context, payload json.RawMessage) Result {
	const op = "checkout.async_payment_failed"

	var session checkoutSessionPayload
	if err := decode(payload, &session); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	if session.ID == "" {
		return fail(ctx, h.logger, op, missingField("id"))
	}
	logger := h.logger.With("session_id", session.ID, "mode", session.Mode)

	meta := domain.ParseCheckoutMetadata(session.Metadata)
	switch purchase := meta.Classify(session.Mode).(type) {
	case domain.AppointmentPurchase:
		appt, err := h.ops.ResolveAppointment(ctx, session.ID, purchase.AppointmentID)
		if err != nil {
			return fail(ctx, logger, op, err)
		}
		if err := h.ops.UpdateAppointment(ctx, appt, AppointmentUpdate{PaymentStatus: domain.PaymentFailed}); err != nil {
			return fail(ctx, logger, op, err)
		}
		logger.InfoContext(ctx, "appointment payment failed", "appointment_id", appt.ID)
		return transitioned("appointment payment failed", "appointment", appt.ID)
	case domain.OrderPurchase:
		err := h.ops.UpdateOrder(ctx, purchase.OrderID, purchase.MirrorID, OrderUpdate{
			PaymentStatus:   domain.PaymentFailed,
			StripeSessionID: session.ID,
		})
		if err != nil {
			return fail(ctx, logger, op, err)
		}
		id := purchase.OrderID
		if id == "" {
			id = purchase.MirrorID
		}
		logger.InfoContext(ctx, "order payment failed", "order_id", purchase.OrderID, "mirror_id", purchase.MirrorID)
		return transitioned("order payment failed", "order", id)
	default:
		logger.InfoContext(ctx, "async payment failure has no order or appointment, ignoring")
		return ok("no purchase to reconcile")
	}
}
