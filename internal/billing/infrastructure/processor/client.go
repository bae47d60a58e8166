// Package processor talks to the Stripe API on behalf of the event handlers.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

// ErrMissingAPIKey is returned when no secret key is configured.
var ErrMissingAPIKey = errors.New("stripe secret key is required")

// Client implements domain.Processor with the Stripe API. Every call passes
// through one circuit breaker; calls are never retried here because the
// webhook sender retries the whole event.
type Client struct {
	api     *client.API
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	backends *stripe.Backends
	breaker  resilience.BreakerConfig
	metrics  observability.Metrics
}

// WithBackends overrides the Stripe API backends, e.g. to point at a test server.
func WithBackends(b *stripe.Backends) Option {
	return func(o *clientOptions) { o.backends = b }
}

// WithBreaker overrides the circuit breaker configuration.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(o *clientOptions) { o.breaker = cfg }
}

// WithMetrics records breaker state changes.
func WithMetrics(m observability.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// NewClient creates a Stripe client for secretKey.
func NewClient(secretKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := clientOptions{breaker: resilience.DefaultBreakerConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	o.breaker.IsSuccessful = isClientError

	api := &client.API{}
	api.Init(secretKey, o.backends)

	return &Client{
		api:     api,
		breaker: resilience.NewBreaker[any]("stripe", o.breaker, logger, o.metrics),
		logger:  logger,
	}, nil
}

// RetrieveSubscription fetches the processor's view of a subscription.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*domain.BillingSubscription, error) {
	result, err := resilience.Execute(c.breaker, func() (any, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		return c.api.Subscriptions.Get(id, params)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}

	sub := result.(*stripe.Subscription)
	out := &domain.BillingSubscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		StartDate:        unixTime(sub.StartDate),
		CurrentPeriodEnd: unixTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	return out, nil
}

// RetrieveCheckoutSessionMetadata returns the metadata stored on a checkout session.
func (c *Client) RetrieveCheckoutSessionMetadata(ctx context.Context, id string) (map[string]string, error) {
	result, err := resilience.Execute(c.breaker, func() (any, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		return c.api.CheckoutSessions.Get(id, params)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}
	return result.(*stripe.CheckoutSession).Metadata, nil
}

// EnsureCustomer returns the id of the customer registered for email,
// creating one only when the search finds none.
func (c *Client) EnsureCustomer(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("ensure customer: %w: email", domain.ErrMissingField)
	}

	result, err := resilience.Execute(c.breaker, func() (any, error) {
		params := &stripe.CustomerListParams{Email: stripe.String(email)}
		params.Context = ctx
		params.Limit = stripe.Int64(1)
		iter := c.api.Customers.List(params)
		if iter.Next() {
			return iter.Customer().ID, nil
		}
		return "", iter.Err()
	})
	if err != nil {
		return "", fmt.Errorf("search customer: %w", err)
	}
	if id := result.(string); id != "" {
		return id, nil
	}

	result, err = resilience.Execute(c.breaker, func() (any, error) {
		params := &stripe.CustomerParams{Email: stripe.String(email)}
		params.Context = ctx
		params.SetIdempotencyKey(customerIdempotencyKey(email))
		return c.api.Customers.New(params)
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	id := result.(*stripe.Customer).ID
	c.logger.InfoContext(ctx, "created processor customer", "customer_id", id)
	return id, nil
}

// customerIdempotencyKey is stable per email and stays within Stripe's
// 255 character key limit for any address length.
func customerIdempotencyKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "carepath-customer-" + hex.EncodeToString(sum[:])
}

// isClientError reports processor 4xx responses, which say nothing about
// the processor's availability.
func isClientError(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusBadRequest && stripeErr.HTTPStatusCode < http.StatusInternalServerError
	}
	return false
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var _ domain.Processor = (*Client)(nil)
