// Package eventbus publishes run notifications to a message broker.
package eventbus

import (
	"context"
	"log/slog"
)

// Publisher sends messages to the event bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// NoopPublisher discards messages. It is used when no broker is configured.
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

// Publish logs the message and drops it.
func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.DebugContext(ctx, "noop publish",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error {
	return nil
}
