package broker

import (
	"context"

	"leadflow/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one envelope. A returned error is retried unless it is
// fatal; business outcomes must be reported as nil.
type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error
