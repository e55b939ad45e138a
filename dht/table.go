package dht

import (
	"net"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// limiterCacheSize bounds the number of source IPs with FindNode limiters.
const limiterCacheSize = 1024

// NodeTable is a Kademlia routing table that keeps itself populated by
// pinging peers and answering the discovery protocol.
//
// Lock order: bucketsMu before indexMu. Packets are never sent while
// either is held.
type NodeTable struct {
	self      crypto.NodeID
	transport transport.Transport
	cfg       Config
	clock     crypto.TimeProvider
	metrics   *Metrics

	// bucketsMu guards the arena and the buckets.
	bucketsMu sync.Mutex
	arena     arena
	buckets   [NumBuckets]kBucket

	// indexMu guards the id index.
	indexMu sync.RWMutex
	index   map[crypto.NodeID]handle

	pending  *pendingSet
	limiters *lru.Cache[string, *rate.Limiter]

	lookupMu  sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
}

// outboundPing is a ping decided under the table locks and sent after they
// are released.
type outboundPing struct {
	id       crypto.NodeID
	endpoint transport.Endpoint
}

// NewNodeTable creates a table for self and registers its packet handlers
// on tr. A nil cfg uses DefaultConfig.
func NewNodeTable(self crypto.NodeID, tr transport.Transport, cfg *Config) (*NodeTable, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, err
	}

	t := &NodeTable{
		self:      self,
		transport: tr,
		cfg:       *cfg,
		clock:     crypto.OrDefault(cfg.TimeProvider),
		metrics:   cfg.Metrics,
		index:     make(map[crypto.NodeID]handle),
		pending:   newPendingSet(),
		limiters:  limiters,
		closing:   make(chan struct{}),
	}

	for _, pt := range []transport.PacketType{
		transport.PacketPingNode,
		transport.PacketPong,
		transport.PacketFindNode,
		transport.PacketNeighbours,
	} {
		tr.RegisterHandler(pt, t.HandlePacket)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewNodeTable",
		"node_id":     self.Short(),
		"bucket_size": cfg.BucketSize,
		"alpha":       cfg.Alpha,
	}).Info("Node table created")
	return t, nil
}

// Self returns the local id.
func (t *NodeTable) Self() crypto.NodeID {
	return t.self
}

// selfEndpoint is the endpoint advertised in outbound pings.
func (t *NodeTable) selfEndpoint() transport.Endpoint {
	if addr, ok := t.transport.LocalAddr().(*net.UDPAddr); ok {
		return transport.NewEndpoint(addr, uint16(addr.Port))
	}
	return transport.Endpoint{}
}

// Count returns the number of entries in the table.
func (t *NodeTable) Count() int {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	return len(t.index)
}

// Has reports whether id is in the table.
func (t *NodeTable) Has(id crypto.NodeID) bool {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	_, ok := t.index[id]
	return ok
}

// Entry returns a copy of the entry for id.
func (t *NodeTable) Entry(id crypto.NodeID) (NodeEntry, bool) {
	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()

	h, ok := t.lookup(id)
	if !ok {
		return NodeEntry{}, false
	}
	return *t.arena.get(h), true
}

// Nodes returns a snapshot of every entry, ordered by bucket and then from
// least to most recently seen.
func (t *NodeTable) Nodes() []NodeEntry {
	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()

	nodes := make([]NodeEntry, 0, t.arena.len())
	for i := range t.buckets {
		for _, h := range t.buckets[i].entries {
			nodes = append(nodes, *t.arena.get(h))
		}
	}
	return nodes
}

// FindNode returns up to BucketSize entries closest to target, closest
// first.
func (t *NodeTable) FindNode(target crypto.NodeID) []NodeEntry {
	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()

	h := &nodeHeap{target: target, entries: make([]NodeEntry, 0, t.cfg.BucketSize)}
	for i := range t.buckets {
		for _, eh := range t.buckets[i].entries {
			h.offer(*t.arena.get(eh), t.cfg.BucketSize)
		}
	}
	return h.sorted()
}

// NoteActiveNode records that id was seen at endpoint without confirming
// it. Known ids are left as they are. A new id is inserted as pending and
// pinged if its bucket has room; otherwise it is queued as a replacement
// and the bucket's least recently seen entry is pinged to test it.
func (t *NodeTable) NoteActiveNode(id crypto.NodeID, endpoint transport.Endpoint) {
	if id == t.self || id.IsZero() || endpoint.UDP == 0 {
		return
	}
	switch transport.ClassifyIP(endpoint.IP) {
	case transport.AddressClassInvalid, transport.AddressClassUnspecified:
		return
	}

	var ping *outboundPing

	t.bucketsMu.Lock()
	if _, known := t.lookup(id); !known {
		b := t.bucket(id)
		if len(b.entries) < t.cfg.BucketSize {
			t.insert(id, endpoint, StatePending)
			ping = &outboundPing{id: id, endpoint: endpoint}
		} else {
			b.addReplacement(candidate{id: id, endpoint: endpoint}, t.cfg.MaxReplacements)
			lrs := t.arena.get(b.entries[0])
			ping = &outboundPing{id: lrs.ID, endpoint: lrs.Endpoint}
		}
	}
	t.bucketsMu.Unlock()

	if ping != nil {
		t.ping(ping.endpoint, &ping.id)
	}
}

// lookup returns the handle for id. Callers hold bucketsMu.
func (t *NodeTable) lookup(id crypto.NodeID) (handle, bool) {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	h, ok := t.index[id]
	return h, ok
}

// bucket returns the bucket for id. Callers hold bucketsMu.
func (t *NodeTable) bucket(id crypto.NodeID) *kBucket {
	return &t.buckets[bucketIndex(t.self, id)]
}

// insert appends a new entry at the most recently seen end of its bucket.
// Callers hold bucketsMu and have checked that the bucket has room.
func (t *NodeTable) insert(id crypto.NodeID, endpoint transport.Endpoint, state EntryState) handle {
	now := t.clock.Now()
	h := t.arena.alloc(NodeEntry{ID: id, Endpoint: endpoint, State: state, AddedAt: now})

	b := t.bucket(id)
	b.removeReplacement(id)
	b.entries = append(b.entries, h)

	t.indexMu.Lock()
	t.index[id] = h
	size := len(t.index)
	t.indexMu.Unlock()

	t.metrics.setTableSize(size)
	logrus.WithFields(logrus.Fields{
		"function": "insert",
		"node_id":  id.Short(),
		"endpoint": endpoint.String(),
		"state":    state.String(),
	}).Debug("Added node to table")
	return h
}

// evict removes the entry for id and fills the slot from the replacement
// queue. It returns the ping to send to the promoted candidate, if any.
// Callers hold bucketsMu.
func (t *NodeTable) evict(id crypto.NodeID) *outboundPing {
	h, ok := t.lookup(id)
	if !ok {
		return nil
	}
	e := t.arena.get(h)
	b := t.bucket(id)
	b.remove(h)

	t.indexMu.Lock()
	delete(t.index, id)
	size := len(t.index)
	t.indexMu.Unlock()

	if e.State == StateActive {
		t.metrics.observeEviction()
	}
	logrus.WithFields(logrus.Fields{
		"function": "evict",
		"node_id":  id.Short(),
		"endpoint": e.Endpoint.String(),
		"state":    e.State.String(),
	}).Debug("Evicted node from table")
	t.arena.release(h)
	t.metrics.setTableSize(size)

	for len(b.entries) < t.cfg.BucketSize {
		c, ok := b.popReplacement()
		if !ok {
			break
		}
		if _, known := t.lookup(c.id); known {
			continue
		}
		t.insert(c.id, c.endpoint, StatePending)
		return &outboundPing{id: c.id, endpoint: c.endpoint}
	}
	return nil
}

// markVerified records a valid Pong from id at endpoint. The verified
// endpoint replaces any previously known one. With a full bucket the node
// is queued as a replacement and the least recently seen entry is pinged.
func (t *NodeTable) markVerified(id crypto.NodeID, endpoint transport.Endpoint) *outboundPing {
	if id == t.self {
		return nil
	}
	now := t.clock.Now()

	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()

	if h, ok := t.lookup(id); ok {
		e := t.arena.get(h)
		if !e.Endpoint.SameUDP(endpoint) {
			logrus.WithFields(logrus.Fields{
				"function": "markVerified",
				"node_id":  id.Short(),
				"old":      e.Endpoint.String(),
				"new":      endpoint.String(),
			}).Debug("Node endpoint changed")
		}
		e.recordPong(now, endpoint)
		t.bucket(id).moveToBack(h)
		return nil
	}

	b := t.bucket(id)
	if len(b.entries) < t.cfg.BucketSize {
		h := t.insert(id, endpoint, StateActive)
		t.arena.get(h).recordPong(now, endpoint)
		return nil
	}
	b.addReplacement(candidate{id: id, endpoint: endpoint}, t.cfg.MaxReplacements)
	lrs := t.arena.get(b.entries[0])
	return &outboundPing{id: lrs.ID, endpoint: lrs.Endpoint}
}

// Ping sends a PingNode to endpoint. A valid Pong inserts or refreshes the
// responder as an active entry.
func (t *NodeTable) Ping(endpoint transport.Endpoint) {
	t.ping(endpoint, nil)
}

// ping sends a PingNode unless one to the endpoint is already outstanding.
// target is the id expected to answer, if known.
func (t *NodeTable) ping(endpoint transport.Endpoint, target *crypto.NodeID) {
	if t.isClosed() {
		return
	}
	now := t.clock.Now()
	req := &pendingRequest{kind: RequestPing, endpoint: endpoint, sentAt: now}
	if target != nil {
		req.target, req.hasTarget = *target, true
	}

	ping := &transport.PingNode{Version: transport.Version, From: t.selfEndpoint(), To: endpoint}
	sent, err := t.pending.addPing(req, func() ([]byte, error) {
		return t.send(ping, endpoint.UDPAddr())
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ping",
			"endpoint": endpoint.String(),
			"error":    err.Error(),
		}).Warn("Failed to send ping")
		return
	}
	if !sent || target == nil {
		return
	}

	t.bucketsMu.Lock()
	if h, ok := t.lookup(*target); ok {
		t.arena.get(h).recordPingSent(now)
	}
	t.bucketsMu.Unlock()
}

func (t *NodeTable) sendPings(pings []*outboundPing) {
	for _, p := range pings {
		if p != nil {
			t.ping(p.endpoint, &p.id)
		}
	}
}

// send writes p through the transport and counts it.
func (t *NodeTable) send(p transport.Packet, addr *net.UDPAddr) ([]byte, error) {
	hash, err := t.transport.Send(p, addr)
	if err == nil {
		t.metrics.observeSent(p.Type())
	}
	return hash, err
}

// Close abandons outstanding requests and unblocks a running lookup. The
// transport is not closed.
func (t *NodeTable) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
		t.pending.clear()
	})
	return nil
}

func (t *NodeTable) isClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// sortByDistance orders entries by ascending distance to target.
func sortByDistance(target crypto.NodeID, entries []NodeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return DistCmp(target, entries[i].ID, entries[j].ID) < 0
	})
}
