package dht

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// RequestKind distinguishes outstanding requests.
type RequestKind uint8

const (
	RequestPing RequestKind = iota
	RequestFindNode
)

// String returns a human-readable representation of the RequestKind.
func (k RequestKind) String() string {
	switch k {
	case RequestPing:
		return "ping"
	case RequestFindNode:
		return "findnode"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// pendingRequest is a request awaiting its reply.
type pendingRequest struct {
	kind RequestKind
	// target is the id expected to answer. Pings sent to a bare endpoint
	// have no target.
	target    crypto.NodeID
	hasTarget bool
	endpoint  transport.Endpoint
	sentAt    time.Time
	hash      []byte

	// FindNode only: nodes collected so far, and done is closed once the
	// reply is complete or the request expired.
	nodes []transport.NeighbourNode
	done  chan struct{}
}

// timedOut reports whether a request sent at sentAt has exceeded timeout
// at now. A request exactly timeout old is timed out.
func timedOut(sentAt, now time.Time, timeout time.Duration) bool {
	return now.Sub(sentAt) >= timeout
}

// pendingSet tracks outstanding pings by endpoint and FindNode requests by
// the queried id. At most one of each is outstanding per key.
type pendingSet struct {
	mu    sync.Mutex
	pings map[string]*pendingRequest
	finds map[crypto.NodeID]*pendingRequest
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		pings: make(map[string]*pendingRequest),
		finds: make(map[crypto.NodeID]*pendingRequest),
	}
}

// addPing registers req and sends it while holding the lock, so a reply
// cannot be processed before the request is recorded. It reports false
// when a ping to the endpoint is already outstanding.
func (p *pendingSet) addPing(req *pendingRequest, send func() ([]byte, error)) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := req.endpoint.Key()
	if _, ok := p.pings[key]; ok {
		return false, nil
	}
	hash, err := send()
	if err != nil {
		return false, err
	}
	req.hash = hash
	p.pings[key] = req
	return true, nil
}

// resolvePing removes and returns the ping to key whose hash is echo.
func (p *pendingSet) resolvePing(key string, echo []byte) *pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.pings[key]
	if !ok || !bytes.Equal(req.hash, echo) {
		return nil
	}
	delete(p.pings, key)
	return req
}

// addFind registers and sends a FindNode request. It reports false when
// one is already outstanding to the same id.
func (p *pendingSet) addFind(req *pendingRequest, send func() error) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.finds[req.target]; ok {
		return false, nil
	}
	if err := send(); err != nil {
		return false, err
	}
	p.finds[req.target] = req
	return true, nil
}

// deliverNeighbours appends nodes to the FindNode outstanding to sender.
// The request completes once it holds want nodes or a short chunk arrives.
// It reports false if no request was outstanding.
func (p *pendingSet) deliverNeighbours(sender crypto.NodeID, nodes []transport.NeighbourNode, want int, lastChunk bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.finds[sender]
	if !ok {
		return false
	}
	req.nodes = append(req.nodes, nodes...)
	if len(req.nodes) >= want || lastChunk {
		delete(p.finds, sender)
		close(req.done)
	}
	return true
}

// cancelFind drops req if it is still outstanding.
func (p *pendingSet) cancelFind(req *pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finds[req.target] == req {
		delete(p.finds, req.target)
		close(req.done)
	}
}

// expire removes every request that timed out at now. Expired FindNode
// requests are completed with whatever they collected; expired pings are
// returned for the caller to act on.
func (p *pendingSet) expire(now time.Time, timeout time.Duration) []*pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []*pendingRequest
	for key, req := range p.pings {
		if timedOut(req.sentAt, now, timeout) {
			delete(p.pings, key)
			expired = append(expired, req)
		}
	}
	for id, req := range p.finds {
		if timedOut(req.sentAt, now, timeout) {
			delete(p.finds, id)
			close(req.done)
		}
	}
	return expired
}

// clear abandons every outstanding request.
func (p *pendingSet) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, req := range p.finds {
		close(req.done)
	}
	p.pings = make(map[string]*pendingRequest)
	p.finds = make(map[crypto.NodeID]*pendingRequest)
}

// size returns the number of outstanding pings and FindNode requests.
func (p *pendingSet) size() (pings, finds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pings), len(p.finds)
}
