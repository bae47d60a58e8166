package application

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// PaymentIntentSucceeded records a settled payment on the order named in the
// intent's metadata.
func (h *Handlers) PaymentIntentSucceeded(ctx context.Context, payload json.RawMessage) Result {
	return h.recordPayment(ctx, "payment_intent.succeeded", payload, domain.PaymentPaid)
}

// PaymentIntentFailed records a failed payment on the order named in the
// intent's metadata.
func (h *Handlers) PaymentIntentFailed(ctx context.Context, payload json.RawMessage) Result {
	return h.recordPayment(ctx, "payment_intent.failed", payload, domain.PaymentFailed)
}

func (h *Handlers) recordPayment(ctx context.Context, op string, payload json.RawMessage, status domain.PaymentStatus) Result {
	var intent paymentIntentPayload
	if err := decode(payload, &intent); err != nil {
		return fail(ctx, h.logger, op, err)
	}
	if intent.ID == "" {
		return fail(ctx, h.logger, op, missingField("id"))
	}
	logger := h.logger.With("payment_intent_id", intent.ID)

	meta := domain.ParsePaymentIntentMetadata(intent.Metadata)
	if meta.Empty() {
		logger.InfoContext(ctx, "payment intent carries no order reference, ignoring")
		return ok("no order to reconcile")
	}

	err := h.ops.UpdateOrder(ctx, meta.OrderID, meta.MirrorID, OrderUpdate{
		PaymentStatus:         status,
		StripePaymentIntentID: intent.ID,
	})
	if err != nil {
		return fail(ctx, logger, op, err)
	}

	id := meta.OrderID
	if id == "" {
		id = meta.MirrorID
	}
	logger.InfoContext(ctx, "order payment recorded", "order_id", meta.OrderID, "payment_status", status)
	return transitioned("order payment "+string(status), "order", id)
}
