package application

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// SubscriptionUpdated mirrors the processor's subscription status.
func (h *Handlers) SubscriptionUpdated(ctx context.Context, payload json.RawMessage) Result {
	const op = "subscription.updated"

	var subscription subscriptionPayload
	if err := decode(payload, &subscription); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	if subscription.ID == "" {
		return fail(ctx, h.logger, op, missingField("id"))
	}
	logger := h.logger.With("stripe_subscription_id", subscription.ID, "stripe_status", subscription.Status)

	sub, err := h.ops.GetSubscription(ctx, domain.KeyStripeSubscriptionID, subscription.ID)
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	status, active := domain.MapSubscriptionStatus(subscription.Status)
	if err := h.ops.UpdateSubscription(ctx, sub, SubscriptionUpdate{Status: status, IsActive: boolPtr(active)}); err != nil {
		return fail(ctx, logger, op, err)
	}

	logger.InfoContext(ctx, "subscription status synced", "subscription_id", sub.ID, "status", status)
	return transitioned("subscription updated", "subscription", sub.ID)
}

// SubscriptionDeleted cancels a subscription and ends it now.
func (h *Handlers) SubscriptionDeleted(ctx context.Context, payload json.RawMessage) Result {
	const op = "subscription.deleted"

	var subscription subscriptionPayload
	if err := decode(payload, &subscription); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	if subscription.ID == "" {
		return fail(ctx, h.logger, op, missingField("id"))
	}
	logger := h.logger.With("stripe_subscription_id", subscription.ID)

	sub, err := h.ops.GetSubscription(ctx, domain.KeyStripeSubscriptionID, subscription.ID)
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	end := h.now().UTC()
	err = h.ops.UpdateSubscription(ctx, sub, SubscriptionUpdate{
		Status:   domain.SubscriptionCancelled,
		IsActive: boolPtr(false),
		EndDate:  &end,
	})
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	logger.InfoContext(ctx, "subscription cancelled", "subscription_id", sub.ID)
	return transitioned("subscription cancelled", "subscription", sub.ID)
}
