package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

// Result is the structured outcome of handling one processor event. Any
// non-2xx status makes the processor redeliver the event later.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"-"`

	// Entity and EntityID name the record that was transitioned, if any.
	Entity   string `json:"-"`
	EntityID string `json:"-"`
}

// Succeeded reports whether the result is a 2xx.
func (r Result) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func ok(message string) Result {
	return Result{Success: true, Message: message, StatusCode: http.StatusOK}
}

func transitioned(message, entity, id string) Result {
	r := ok(message)
	r.Entity = entity
	r.EntityID = id
	return r
}

func missingField(field string) error {
	return fmt.Errorf("%w: %s", domain.ErrMissingField, field)
}

// fail logs err and converts it into a Result. Absent records log at warn
// because they are usually an ordering artifact the processor's retry fixes.
func fail(ctx context.Context, logger *slog.Logger, op string, err error) Result {
	var dsErr *domain.DatastoreError
	switch {
	case errors.Is(err, domain.ErrMissingField), errors.Is(err, domain.ErrMalformedPayload):
		logger.WarnContext(ctx, "malformed event payload", "operation", op, "error", err)
		return Result{Error: err.Error(), StatusCode: http.StatusBadRequest}
	case domain.IsNotFound(err):
		logger.WarnContext(ctx, "correlated record not found", "operation", op, "error", err)
		return Result{Error: err.Error(), StatusCode: http.StatusNotFound}
	case errors.As(err, &dsErr):
		logger.ErrorContext(ctx, "relational write failed", "operation", op,
			"table", dsErr.Table, "key_field", dsErr.KeyField, "key", dsErr.Key, "error", dsErr.Err)
	default:
		logger.ErrorContext(ctx, "event handling failed", "operation", op, "error", err)
	}
	return Result{Error: err.Error(), StatusCode: http.StatusInternalServerError}
}
