package application

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// InvoicePaymentSucceeded extends a subscription through the paid period.
func (h *Handlers) InvoicePaymentSucceeded(ctx context.Context, payload json.RawMessage) Result {
	const op = "invoice.succeeded"

	var invoice invoicePayload
	if err := decode(payload, &invoice); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	subscriptionID := invoice.subscriptionID()
	if subscriptionID == "" {
		return fail(ctx, h.logger, op, missingField("subscription"))
	}
	logger := h.logger.With("invoice_id", invoice.ID, "stripe_subscription_id", subscriptionID)

	sub, err := h.ops.GetSubscription(ctx, domain.KeyStripeSubscriptionID, subscriptionID)
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	update := SubscriptionUpdate{
		Status:   domain.SubscriptionActive,
		IsActive: boolPtr(true),
	}
	if end := invoice.servicePeriodEnd(); !end.IsZero() {
		update.EndDate = &end
		update.NextBillingDate = &end
	}
	if err := h.ops.UpdateSubscription(ctx, sub, update); err != nil {
		return fail(ctx, logger, op, err)
	}

	logger.InfoContext(ctx, "subscription renewed", "subscription_id", sub.ID)
	return transitioned("subscription renewed", "subscription", sub.ID)
}

// InvoicePaymentFailed marks a subscription past due. Access is not revoked
// and the end date is left alone.
func (h *Handlers) InvoicePaymentFailed(ctx context.Context, payload json.RawMessage) Result {
	const op = "invoice.failed"

	var invoice invoicePayload
	if err := decode(payload, &invoice); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	subscriptionID := invoice.subscriptionID()
	if subscriptionID == "" {
		return fail(ctx, h.logger, op, missingField("subscription"))
	}
	logger := h.logger.With("invoice_id", invoice.ID, "stripe_subscription_id", subscriptionID)

	sub, err := h.ops.GetSubscription(ctx, domain.KeyStripeSubscriptionID, subscriptionID)
	if err != nil {
		return fail(ctx, logger, op, err)
	}
	if err := h.ops.UpdateSubscription(ctx, sub, SubscriptionUpdate{Status: domain.SubscriptionPastDue}); err != nil {
		return fail(ctx, logger, op, err)
	}

	logger.InfoContext(ctx, "subscription past due", "subscription_id", sub.ID)
	return transitioned("subscription marked past due", "subscription", sub.ID)
}
