// Package eventbus publishes billing reconciliation notifications for other
// services to consume.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher sends messages to the message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// NoopPublisher drops every message. It is used when no broker is configured.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.DebugContext(ctx, "noop publish", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}

// Message is a message captured by MemoryPublisher.
type Message struct {
	RoutingKey string
	Payload    []byte
}

// MemoryPublisher keeps published messages in memory, in order. The replay
// command prints them and tests assert on them.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{RoutingKey: routingKey, Payload: append([]byte(nil), payload...)})
	return nil
}

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

func (p *MemoryPublisher) Close() error {
	return nil
}

var (
	_ Publisher = (*NoopPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
	_ Publisher = (*RabbitMQPublisher)(nil)
)
