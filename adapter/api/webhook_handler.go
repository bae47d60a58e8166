package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/felixgeelhaar/carepath/internal/billing/application"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

// MaxBodyBytes caps a webhook payload. Processor events are well under this.
const MaxBodyBytes = 1 << 20

// EventDispatcher handles one verified event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event application.Event) application.Result
}

// WebhookHandler verifies processor signatures and hands events to the dispatcher.
type WebhookHandler struct {
	secret     string
	dispatcher EventDispatcher
	metrics    observability.Metrics
	logger     *slog.Logger
}

// NewWebhookHandler creates the webhook endpoint. secret is the signing
// secret of the processor endpoint.
func NewWebhookHandler(secret string, dispatcher EventDispatcher, metrics observability.Metrics, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &WebhookHandler{
		secret:     secret,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// ServeHTTP handles POST /webhooks/stripe.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(ctx, w, http.StatusRequestEntityTooLarge, "payload too large", err)
			return
		}
		h.reject(ctx, w, http.StatusBadRequest, "unreadable body", err)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.reject(ctx, w, http.StatusBadRequest, "invalid signature", err)
		return
	}
	if event.Data == nil {
		h.reject(ctx, w, http.StatusBadRequest, "event has no data", nil)
		return
	}

	result := h.dispatcher.Dispatch(ctx, application.Event{
		ID:   event.ID,
		Type: string(event.Type),
		Data: event.Data.Raw,
	})
	writeJSON(w, result.StatusCode, result)
}

func (h *WebhookHandler) reject(ctx context.Context, w http.ResponseWriter, status int, reason string, err error) {
	h.metrics.Counter(observability.MetricWebhookRejected, 1, observability.T("reason", reason))
	h.logger.WarnContext(ctx, "webhook rejected", "reason", reason, "error", err)
	writeError(w, status, reason)
}
