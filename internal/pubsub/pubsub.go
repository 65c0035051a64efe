package pubsub

import (
	"context"
)

// Message is one payload on the event bus, addressed to a topic and tagged
// with the stage that produced it.
type Message struct {
	Topic    string
	Stage    string
	Payload  []byte
	Metadata map[string]string
}

// Meta returns the metadata value for key, or "" when it is not set.
func (m Message) Meta(key string) string {
	return m.Metadata[key]
}

// Handler processes one delivered message. An error is logged by the bus and
// does not stop the subscription.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to the bus.
type Publisher interface {
	// Publish returns once every subscriber of the topic handled msg.
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe returns once the subscription is active. Messages are
	// handled in the background until ctx is done or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus both publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
}
