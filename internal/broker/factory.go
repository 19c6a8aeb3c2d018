package broker

import (
	"context"
	"fmt"

	"leadflow/internal/config"
	"leadflow/internal/logger"
	"leadflow/pkg/models"
)

// Enabled reports whether a broker is configured at all.
func Enabled(cfg config.BrokerConfig) bool {
	return cfg.Type != ""
}

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, log), nil
	case "":
		return NoopProducer{}, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaConsumer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NoopProducer drops every message. Used when no broker is configured.
type NoopProducer struct{}

func (NoopProducer) Publish(context.Context, string, models.MessageEnvelope) error { return nil }
func (NoopProducer) Close() error                                                  { return nil }
