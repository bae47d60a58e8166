package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// HandlerFunc handles the data object of one processor event type.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) Result

// Processor event types this service reconciles.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventInvoicePaymentSucceeded       = "invoice.payment_succeeded"
	EventInvoicePaymentFailed          = "invoice.payment_failed"
	EventSubscriptionUpdated           = "customer.subscription.updated"
	EventSubscriptionDeleted           = "customer.subscription.deleted"
	EventPaymentIntentSucceeded        = "payment_intent.succeeded"
	EventPaymentIntentFailed           = "payment_intent.payment_failed"
)

// Handlers transitions subscriptions, appointments and orders in response
// to processor events. Each invocation is independent and holds no state.
type Handlers struct {
	ops       *Operations
	processor domain.Processor
	logger    *slog.Logger
	now       domain.Clock
}

// NewHandlers creates the event handlers.
func NewHandlers(ops *Operations, processor domain.Processor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ops:       ops,
		processor: processor,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (h *Handlers) WithClock(now domain.Clock) *Handlers {
	h.now = now
	return h
}

// Routes returns the event type to handler table.
func (h *Handlers) Routes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		EventCheckoutSessionCompleted:      h.CheckoutSessionCompleted,
		EventCheckoutAsyncPaymentSucceeded: h.CheckoutSessionCompleted,
		EventCheckoutAsyncPaymentFailed:    h.CheckoutAsyncPaymentFailed,
		EventInvoicePaymentSucceeded:       h.InvoicePaymentSucceeded,
		EventInvoicePaymentFailed:          h.InvoicePaymentFailed,
		EventSubscriptionUpdated:           h.SubscriptionUpdated,
		EventSubscriptionDeleted:           h.SubscriptionDeleted,
		EventPaymentIntentSucceeded:        h.PaymentIntentSucceeded,
		EventPaymentIntentFailed:           h.PaymentIntentFailed,
	}
}

func boolPtr(b bool) *bool {
	return &b
}
