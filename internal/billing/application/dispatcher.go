package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

// RoutingKeyPrefix prefixes the routing key of reconciliation notifications.
const RoutingKeyPrefix = "billing.reconciled."

// Event is a verified processor event.
type Event struct {
	ID   string
	Type string
	// Data is the raw data.object of the event.
	Data json.RawMessage
}

// ParseEvent decodes a processor event envelope that has already been trusted.
func ParseEvent(raw []byte) (Event, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: event envelope: %v", domain.ErrMalformedPayload, err)
	}
	if envelope.Type == "" {
		return Event{}, missingField("type")
	}
	return Event{ID: envelope.ID, Type: envelope.Type, Data: envelope.Data.Object}, nil
}

// Notification is published after an event changed a record.
type Notification struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Entity     string    `json:"entity,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Dispatcher routes verified events to their handlers.
type Dispatcher struct {
	routes    map[string]HandlerFunc
	ledger    domain.EventLedger
	publisher eventbus.Publisher
	metrics   observability.Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher over a routing table. ledger and
// publisher may be nil.
func NewDispatcher(routes map[string]HandlerFunc, ledger domain.EventLedger, publisher eventbus.Publisher, metrics observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Dispatcher{
		routes:    routes,
		ledger:    ledger,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Dispatch handles one event and returns the result to send back to the processor.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) (result Result) {
	ctx = observability.WithCorrelationID(ctx, event.ID)
	logger := d.logger.With("event_id", event.ID, "event_type", event.Type)
	timer := observability.StartTimer(event.Type).
		WithMetrics(d.metrics).
		WithTags(observability.T("event_type", event.Type))

	defer func() {
		d.metrics.Counter(observability.MetricWebhookEvents, 1,
			observability.T("event_type", event.Type),
			observability.T(observability.StatusKey, fmt.Sprint(result.StatusCode)))
	}()

	handler, found := d.routes[event.Type]
	if !found {
		logger.InfoContext(ctx, "unhandled event type, ignoring")
		return ok("ignored event type " + event.Type)
	}

	claimed := false
	if d.ledger != nil && event.ID != "" {
		state, err := d.ledger.Claim(ctx, event.ID)
		switch {
		case err != nil:
			logger.WarnContext(ctx, "event ledger unavailable, handling without de-duplication", "error", err)
		case state == domain.ClaimDone:
			logger.InfoContext(ctx, "event already handled")
			d.metrics.Counter(observability.MetricWebhookDuplicates, 1, observability.T("event_type", event.Type))
			return ok("duplicate event")
		case state == domain.ClaimInFlight:
			logger.InfoContext(ctx, "event is being handled by another delivery")
			return Result{Error: "event in flight", StatusCode: http.StatusConflict}
		default:
			claimed = true
		}
	}

	result = d.invoke(ctx, logger, handler, event.Data)
	if result.Succeeded() {
		timer.Stop()
	} else {
		timer.StopWithError(fmt.Errorf("status %d: %s", result.StatusCode, result.Error))
	}

	if claimed {
		d.settle(ctx, logger, event.ID, result)
	}
	if result.Succeeded() && result.EntityID != "" {
		d.notify(ctx, logger, event, result)
	}
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, logger *slog.Logger, handler HandlerFunc, data json.RawMessage) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "event handler panicked", "panic", r)
			result = Result{Error: "internal error", StatusCode: http.StatusInternalServerError}
		}
	}()
	return handler(ctx, data)
}

func (d *Dispatcher) settle(ctx context.Context, logger *slog.Logger, eventID string, result Result) {
	if result.Succeeded() {
		if err := d.ledger.Complete(ctx, eventID); err != nil {
			logger.WarnContext(ctx, "failed to mark event handled", "error", err)
		}
		return
	}
	if err := d.ledger.Release(ctx, eventID); err != nil {
		logger.WarnContext(ctx, "failed to release event claim", "error", err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, event Event, result Result) {
	if d.publisher == nil {
		return
	}
	payload, err := json.Marshal(Notification{
		ID:         uuid.New().String(),
		EventID:    event.ID,
		EventType:  event.Type,
		Entity:     result.Entity,
		EntityID:   result.EntityID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to encode notification", "error", err)
		return
	}
	if err := d.publisher.Publish(ctx, RoutingKeyPrefix+event.Type, payload); err != nil {
		logger.WarnContext(ctx, "failed to publish notification", "error", err)
	}
}
