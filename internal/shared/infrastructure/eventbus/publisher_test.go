package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher(t *testing.T) {
	p := NewMemoryPublisher()
	ctx := context.Background()

	payload := []byte(`{"event_id":"evt_1"}`)
	require.NoError(t, p.Publish(ctx, "billing.reconciled.invoice.payment_failed", payload))
	require.NoError(t, p.Publish(ctx, "billing.reconciled.customer.subscription.deleted", []byte(`{}`)))
	payload[0] = 'x'

	messages := p.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "billing.reconciled.invoice.payment_failed", messages[0].RoutingKey)
	assert.JSONEq(t, `{"event_id":"evt_1"}`, string(messages[0].Payload))
	assert.NoError(t, p.Close())
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoopPublisher(nil)
	assert.NoError(t, p.Publish(context.Background(), "billing.reconciled.x", nil))
	assert.NoError(t, p.Close())
}

func TestRabbitMQPublisher_PingWithoutConnection(t *testing.T) {
	p := &RabbitMQPublisher{}
	assert.ErrorIs(t, p.Ping(context.Background()), ErrPublisherClosed)
}
