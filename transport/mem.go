package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemBroker is an in-process pub/sub hub shared by every MemTransport
// connected to it, standing in for a real MQTT-style broker in tests.
type MemBroker struct {
	mu        sync.Mutex
	subs      map[string]map[int]subEntry
	nextSubID int
	retained  *xsync.MapOf[string, Message]
}

type subEntry struct {
	clientID string
	handler  Handler
}

func NewMemBroker() *MemBroker {
	return &MemBroker{
		subs:     make(map[string]map[int]subEntry),
		retained: xsync.NewMapOf[string, Message](),
	}
}

func (b *MemBroker) publish(ctx context.Context, msg Message) {
	if msg.Retained {
		if len(msg.Payload) == 0 {
			b.retained.Delete(msg.Topic)
		} else {
			b.retained.Store(msg.Topic, msg)
		}
	}

	b.mu.Lock()
	var entries []subEntry
	for pattern, subs := range b.subs {
		if !topicMatches(pattern, msg.Topic) {
			continue
		}
		for _, e := range subs {
			entries = append(entries, e)
		}
	}
	b.mu.Unlock()

	for _, e := range entries {
		e.handler(ctx, msg)
	}
}

func (b *MemBroker) subscribe(ctx context.Context, clientID, pattern string, handler Handler) func() {
	b.mu.Lock()
	if b.subs[pattern] == nil {
		b.subs[pattern] = make(map[int]subEntry)
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[pattern][id] = subEntry{clientID: clientID, handler: handler}
	b.mu.Unlock()

	b.retained.Range(func(topic string, msg Message) bool {
		if topicMatches(pattern, topic) {
			handler(ctx, msg)
		}
		return true
	})

	return func() {
		b.mu.Lock()
		delete(b.subs[pattern], id)
		b.mu.Unlock()
	}
}

func (b *MemBroker) present(prefix string) []string {
	seen := make(map[string]bool)
	var ids []string
	b.retained.Range(func(topic string, msg Message) bool {
		if strings.HasPrefix(topic, prefix) && len(msg.Payload) > 0 {
			id := strings.TrimPrefix(topic, prefix)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return true
	})
	return ids
}

// topicMatches supports exact matches and a trailing "/#" multi-level
// wildcard, MQTT's subscription shape — the only one the remoting
// protocol's fixed topic layout needs.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "/#") {
		prefix := strings.TrimSuffix(pattern, "/#")
		return topic == prefix || strings.HasPrefix(topic, prefix+"/")
	}
	return false
}

// MemTransport is one client's connection to a MemBroker.
type MemTransport struct {
	broker   *MemBroker
	clientID string
	lastWill *Message

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// NewMemTransport connects to broker as clientID. lastWill, if
// non-nil, is published when Close runs — mirroring a broker's
// last-will-and-testament delivery on ungraceful disconnect, used by
// Remotes to retract a departing clone's presence record.
func NewMemTransport(broker *MemBroker, clientID string, lastWill *Message) *MemTransport {
	return &MemTransport{broker: broker, clientID: clientID, lastWill: lastWill}
}

func (t *MemTransport) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	t.broker.publish(ctx, Message{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (t *MemTransport) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	unsub := t.broker.subscribe(ctx, t.clientID, topic, handler)
	t.mu.Lock()
	t.unsubs = append(t.unsubs, unsub)
	t.mu.Unlock()
	return unsub, nil
}

func (t *MemTransport) Present(ctx context.Context, topic string) ([]string, error) {
	return t.broker.present(topic), nil
}

func (t *MemTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.lastWill != nil {
		t.broker.publish(context.Background(), *t.lastWill)
	}
	for _, unsub := range t.unsubs {
		unsub()
	}
	return nil
}
