package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (local) or NATS (cluster).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" json:"type" validate:"oneof=channel nats"`

	// Channel settings (local profile)
	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	// NATS settings (cluster profile)
	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"-"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds
}

// Standard topic names for pipeline runs.
const (
	TopicRunRequested = "fraudgraph.run.requested"
	TopicRunPhase     = "fraudgraph.run.phase"
	TopicRunCompleted = "fraudgraph.run.completed"
	TopicRunFailed    = "fraudgraph.run.failed"
)

// RunRequest asks a worker to execute the pipeline.
type RunRequest struct {
	RunID      string  `json:"runId"`
	Percentile float64 `json:"percentile,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	SkipBasic  bool    `json:"skipBasic,omitempty"`
	Evaluate   bool    `json:"evaluateOnly,omitempty"`
}

// PhaseEvent reports progress of one pipeline phase.
type PhaseEvent struct {
	RunID      string `json:"runId"`
	Phase      string `json:"phase"`
	Status     string `json:"status"` // started, completed, failed, skipped
	Rows       int64  `json:"rows"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// RunResult is published when a run finishes.
type RunResult struct {
	RunID  string  `json:"runId"`
	Status string  `json:"status"` // completed, failed
	Error  string  `json:"error,omitempty"`
	Report *Report `json:"report,omitempty"`
}
