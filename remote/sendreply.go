package remote

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/clonegraph/suset/internal/suseterr"
	"github.com/clonegraph/suset/transport"
)

// RequestHandler answers an inbound send request addressed to this
// clone's own send topic, returning the reply payload.
type RequestHandler func(ctx context.Context, fromID, addressPath string, payload []byte) ([]byte, error)

// Requester runs the send/reply half of the remoting protocol: it
// sends each request to a present peer that has not timed out this
// round (a peer that timed out is retried only after every present
// peer has timed out) and answers inbound requests via a
// caller-supplied handler. A successful reply does not move later
// requests on to a different peer.
type Requester struct {
	domain   string
	selfID   string
	t        transport.Transport
	presence *Presence
	timeout  time.Duration

	pending *xsync.MapOf[string, chan []byte]

	mu      sync.Mutex
	skipped map[string]bool
}

// NewRequester subscribes to this clone's own send and reply topics
// and begins answering inbound requests with handle.
func NewRequester(ctx context.Context, t transport.Transport, presence *Presence, domain, selfID string, timeout time.Duration, handle RequestHandler) (*Requester, error) {
	r := &Requester{
		domain:   domain,
		selfID:   selfID,
		t:        t,
		presence: presence,
		timeout:  timeout,
		pending:  xsync.NewMapOf[string, chan []byte](),
		skipped:  make(map[string]bool),
	}

	if _, err := t.Subscribe(ctx, "send/"+selfID+"/#", func(ctx context.Context, msg transport.Message) {
		r.handleRequest(ctx, msg, handle)
	}); err != nil {
		return nil, err
	}
	if _, err := t.Subscribe(ctx, "reply/"+selfID+"/#", r.handleReply); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Requester) handleRequest(ctx context.Context, msg transport.Message, handle RequestHandler) {
	toID, fromID, messageID, addressPath, ok := splitTopic(msg.Topic, 4)
	if !ok || toID != r.selfID {
		return
	}
	reply, err := handle(ctx, fromID, addressPath, msg.Payload)
	if err != nil {
		return
	}
	sentMessageID := uuid.New().String()
	_ = r.t.Publish(ctx, replyTopic(fromID, r.selfID, messageID, sentMessageID), reply, false)
}

func (r *Requester) handleReply(_ context.Context, msg transport.Message) {
	toID, _, messageID, _, ok := splitTopic(msg.Topic, 4)
	if !ok || toID != r.selfID {
		return
	}
	if ch, found := r.pending.Load(messageID); found {
		select {
		case ch <- msg.Payload:
		default:
		}
	}
}

// Send picks a present peer that has not timed out this round
// (resetting that set once every peer has timed out), publishes a request to
// its send topic, and blocks for the matching reply or the configured
// timeout.
func (r *Requester) Send(ctx context.Context, addressPath string, payload []byte) ([]byte, error) {
	peer, err := r.pickPeer()
	if err != nil {
		return nil, err
	}

	messageID := uuid.New().String()
	ch := make(chan []byte, 1)
	r.pending.Store(messageID, ch)
	defer r.pending.Delete(messageID)

	topic := sendTopic(peer, r.selfID, messageID, addressPath)
	if err := r.t.Publish(ctx, topic, payload, false); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		r.markTried(peer, false)
		return reply, nil
	case <-time.After(r.timeout):
		r.markTried(peer, true)
		return nil, suseterr.ErrSendTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Requester) pickPeer() (string, error) {
	peers := r.presence.Peers()
	if len(peers) == 0 {
		return "", suseterr.ErrNoneVisible
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range peers {
		if !r.skipped[p] {
			return p, nil
		}
	}
	// Every peer has been tried this round; reset and start over.
	r.skipped = make(map[string]bool)
	return peers[0], nil
}

func (r *Requester) markTried(peer string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if failed {
		r.skipped[peer] = true
	} else {
		delete(r.skipped, peer)
	}
}

// splitTopic parses a "scheme/to/from/messageId/addressPath"-shaped
// topic (send or reply alike — the final segment may itself contain
// slashes, e.g. an address path).
func splitTopic(topic string, n int) (to, from, messageID, rest string, ok bool) {
	parts := strings.SplitN(topic, "/", n+1)
	if len(parts) < n {
		return "", "", "", "", false
	}
	to, from, messageID = parts[1], parts[2], parts[3]
	if len(parts) > 4 {
		rest = parts[4]
	}
	return to, from, messageID, rest, true
}
