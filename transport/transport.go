// Package transport specifies the pub/sub collaborator the remoting
// protocol is built on: named topics, presence-backed retained
// messages, and a single inbound message callback. The broker itself
// (MQTT or otherwise) is an external collaborator; this package only
// fixes the interface and supplies an in-memory fake for tests.
package transport

import "context"

// Message is one published payload, addressed to a topic.
type Message struct {
	Topic   string
	Payload []byte
	// Retained mirrors MQTT-style retained delivery: a new subscriber
	// immediately receives the topic's last retained message, if any.
	Retained bool
}

// Handler is invoked for every message a subscription matches,
// including retained replays delivered at subscribe time.
type Handler func(ctx context.Context, msg Message)

// Transport is the pub/sub collaborator Remotes is built on, per
// §4.6/§1: publish, subscribe, presence, and a single dispatch point
// for inbound messages.
type Transport interface {
	// Publish sends payload to topic. If retained, the broker keeps it
	// as the topic's last message for future subscribers.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	// Subscribe registers handler for every message published to
	// topic (which may be a broker-specific wildcard pattern).
	// Returns an unsubscribe func.
	Subscribe(ctx context.Context, topic string, handler Handler) (unsubscribe func(), err error)
	// Present returns the client IDs currently visible on the given
	// presence-backed topic.
	Present(ctx context.Context, topic string) ([]string, error)
	// Close releases the connection, publishing the broker's last-will
	// (if configured) so presence updates.
	Close() error
}
