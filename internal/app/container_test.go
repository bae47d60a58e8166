package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/carepath/internal/billing/application"
	"github.com/felixgeelhaar/carepath/internal/billing/infrastructure/dedup"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/carepath/pkg/config"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:                  "development",
		SQLitePath:              filepath.Join(t.TempDir(), "nested", "billing.db"),
		StripeSecretKey:         "sk_test_123",
		BreakerFailureThreshold: 5,
	}
}

func TestNewContainer_LocalMode(t *testing.T) {
	c, err := NewContainer(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.Equal(t, database.DriverSQLite, c.DBConn.Driver())
	assert.IsType(t, &dedup.MemoryLedger{}, c.Ledger)
	assert.IsType(t, &eventbus.NoopPublisher{}, c.EventPublisher)
	assert.Nil(t, c.Documents)
	require.NotNil(t, c.Dispatcher)

	health := c.Health.Check(context.Background())
	assert.Equal(t, observability.HealthStatusHealthy, health.Status)
	assert.Contains(t, health.Checks, "database")
}

func TestNewContainer_DispatchesAgainstLocalStore(t *testing.T) {
	c, err := NewContainer(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ctx := context.Background()

	_, err = c.DBConn.Exec(ctx,
		`INSERT INTO user_subscriptions (id, user_id, stripe_subscription_id, status, is_active) VALUES ('us-1', 'user-1', 'sub_123', 'active', 1)`)
	require.NoError(t, err)

	result := c.Dispatcher.Dispatch(ctx, application.Event{
		ID:   "evt_1",
		Type: application.EventInvoicePaymentFailed,
		Data: []byte(`{"id":"in_1","subscription":"sub_123"}`),
	})
	require.True(t, result.Succeeded(), result.Error)

	rec, err := c.Relational.Get(ctx, "user_subscriptions", "stripe_subscription_id", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "past_due", rec.Status)
}

func TestNewContainer_FailsFastWithoutCredentials(t *testing.T) {
	_, err := NewContainer(context.Background(), &config.Config{AppEnv: "production"}, nil)
	assert.ErrorIs(t, err, config.ErrMissingStripeKey)
	assert.ErrorIs(t, err, config.ErrMissingDatabaseCredential)
}
