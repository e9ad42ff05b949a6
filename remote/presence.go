package remote

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/clonegraph/suset/internal/suseterr"
	"github.com/clonegraph/suset/transport"
)

type helloMessage struct {
	ID string `json:"id"`
}

// AwaitGenesis implements §4.6's race-free genesis election: the
// first hello any clone observes on the domain's retained registry
// topic determines genesis. A clone whose subscription has delivered
// no hello by the time Subscribe returns (retained hellos are replayed
// during Subscribe) publishes its own and then waits up to timeout for
// whichever hello — its own or a concurrent rival's — is the first one
// its subscription delivers.
func AwaitGenesis(ctx context.Context, t transport.Transport, domain, selfID string, timeout time.Duration) (isGenesis bool, err error) {
	var once sync.Once
	winner := make(chan string, 1)
	handler := func(_ context.Context, msg transport.Message) {
		var hello helloMessage
		if json.Unmarshal(msg.Payload, &hello) != nil {
			return
		}
		once.Do(func() { winner <- hello.ID })
	}

	unsub, err := t.Subscribe(ctx, registryTopic(domain), handler)
	if err != nil {
		return false, err
	}
	defer unsub()

	select {
	case id := <-winner:
		return id == selfID, nil
	default:
	}

	payload, err := json.Marshal(helloMessage{ID: selfID})
	if err != nil {
		return false, err
	}
	if err := t.Publish(ctx, registryTopic(domain), payload, true); err != nil {
		return false, err
	}

	select {
	case id := <-winner:
		return id == selfID, nil
	case <-time.After(timeout):
		return false, suseterr.ErrSendTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Presence tracks which clone IDs are currently joinable in a domain,
// backed by per-clone retained records under a shared topic prefix —
// an empty retained payload (from a last-will or explicit departure)
// removes a peer.
type Presence struct {
	domain string
	selfID string
	t      transport.Transport
	peers  *xsync.MapOf[string, bool]
	unsub  func()
}

// StartPresence subscribes to the domain's presence namespace and
// publishes selfID's own retained presence record.
func StartPresence(ctx context.Context, t transport.Transport, domain, selfID string) (*Presence, error) {
	p := &Presence{domain: domain, selfID: selfID, t: t, peers: xsync.NewMapOf[string, bool]()}

	unsub, err := t.Subscribe(ctx, presenceWildcard(domain), p.onMessage)
	if err != nil {
		return nil, err
	}
	p.unsub = unsub

	if err := t.Publish(ctx, presenceTopic(domain, selfID), []byte(selfID), true); err != nil {
		unsub()
		return nil, err
	}
	return p, nil
}

func (p *Presence) onMessage(_ context.Context, msg transport.Message) {
	id := strings.TrimPrefix(msg.Topic, presencePrefix(p.domain))
	if id == p.selfID {
		return
	}
	if len(msg.Payload) == 0 {
		p.peers.Delete(id)
	} else {
		p.peers.Store(id, true)
	}
}

// Peers returns every currently-present peer ID, excluding self.
func (p *Presence) Peers() []string {
	var ids []string
	p.peers.Range(func(id string, _ bool) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Close retracts this clone's own presence record and unsubscribes. A
// last-will configured on the Transport handles the ungraceful case.
func (p *Presence) Close(ctx context.Context) error {
	p.unsub()
	return p.t.Publish(ctx, presenceTopic(p.domain, p.selfID), nil, true)
}

// LastWill builds the retained tombstone a Transport should publish
// on ungraceful disconnect, so peers see this clone depart even if it
// never calls Close cleanly.
func LastWill(domain, selfID string) transport.Message {
	return transport.Message{Topic: presenceTopic(domain, selfID), Payload: nil, Retained: true}
}
