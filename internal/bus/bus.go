// Package bus provides the event bus that carries pipeline run requests
// and progress events.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// New creates a new event bus based on configuration.
// Local profile: ChannelBus.
// Cluster profile: NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}

// Decode unmarshals a message payload into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidInput, msg.Topic, err)
	}
	return nil
}

// Reply answers a message received through Request.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	if nb, ok := b.(*NATSBus); ok {
		return nb.Reply(msg, payload)
	}
	to := msg.Metadata["reply_to"]
	if to == "" {
		return fmt.Errorf("%w: message %s expects no reply", domain.ErrInvalidInput, msg.ID)
	}
	return b.Publish(ctx, to, payload)
}
