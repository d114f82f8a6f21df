package mq

import "context"

// Topics owned by the safety engine.
const (
	TopicAlert    = "wallet_events_alert"
	TopicGuardian = "wallet_events_guardian"
	TopicThreat   = "wallet_events_threat"
)

// Message is a broker-neutral envelope.
type Message struct {
	ID       string
	Topic    string
	Key      string // partition key, e.g. wallet id
	Payload  []byte // JSON
	Metadata map[string]string
}

type Producer interface {
	// Publish sends payload to topic. An empty key means any partition.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

type Consumer interface {
	// Subscribe delivers messages to handler until ctx ends. A handler error
	// leaves the message unacknowledged.
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error
	Close() error
}
