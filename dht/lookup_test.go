package dht

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// fakeNetwork answers FindNode requests sent through a MockTransport as if
// every peer knew the whole network.
type fakeNetwork struct {
	peers map[string]NodeEntry
	all   []NodeEntry
	k     int
}

func newFakeNetwork(t *testing.T, size, k int) *fakeNetwork {
	t.Helper()
	n := &fakeNetwork{peers: make(map[string]NodeEntry), k: k}
	for i := 0; i < size; i++ {
		e := NodeEntry{ID: randomID(t), Endpoint: publicEndpoint(i + 1)}
		n.peers[e.Endpoint.Key()] = e
		n.all = append(n.all, e)
	}
	return n
}

// closest returns the k peers closest to target, excluding skip.
func (n *fakeNetwork) closest(target crypto.NodeID, skip crypto.NodeID) []NodeEntry {
	var out []NodeEntry
	for _, e := range n.all {
		if e.ID != skip {
			out = append(out, e)
		}
	}
	sortByDistance(target, out)
	if len(out) > n.k {
		out = out[:n.k]
	}
	return out
}

// attach makes tr answer FindNode. Replies are delivered from a separate
// goroutine, in MaxNeighbours sized chunks ending with a short one.
func (n *fakeNetwork) attach(tr *MockTransport) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.onSend = func(p transport.Packet, addr *net.UDPAddr, _ []byte) {
		find, ok := p.(*transport.FindNode)
		if !ok {
			return
		}
		peer, ok := n.peers[transport.NewEndpoint(addr, 0).Key()]
		if !ok {
			return
		}
		var nodes []transport.NeighbourNode
		for _, e := range n.closest(find.Target, peer.ID) {
			nodes = append(nodes, transport.NeighbourNode{ID: e.ID, Endpoint: e.Endpoint})
		}
		go func() {
			for start := 0; ; start += transport.MaxNeighbours {
				end := min(start+transport.MaxNeighbours, len(nodes))
				_ = tr.SimulateReceive(&transport.Neighbours{Nodes: nodes[start:end]}, peer.ID, peer.Endpoint)
				if end-start < transport.MaxNeighbours {
					return
				}
			}
		}()
	}
}

func TestDiscoverFindsClosestNodes(t *testing.T) {
	// Arrange
	tt := newTestTable(t)
	network := newFakeNetwork(t, 40, tt.cfg.BucketSize)
	network.attach(tt.tr)
	for _, e := range network.all[:3] {
		tt.NoteActiveNode(e.ID, e.Endpoint)
	}
	target := randomID(t)

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	found, err := tt.Discover(ctx, target)

	// Assert
	require.NoError(t, err)
	want := network.closest(target, crypto.NodeID{})
	require.Len(t, found, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, found[i].ID, "position %d", i)
	}
	assert.Greater(t, tt.Count(), 3, "learned nodes are offered to the table")
	tt.assertConsistent(t)
}

func TestDiscoverUnresponsivePeers(t *testing.T) {
	tt := newTestTable(t, func(c *Config) { c.PingTimeout = 20 * time.Millisecond })
	peer := idInBucket(tt.self, 300, 1)
	tt.NoteActiveNode(peer, publicEndpoint(1))

	found, err := tt.Discover(context.Background(), randomID(t))

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, peer, found[0].ID)
	pings, finds := tt.pending.size()
	assert.Zero(t, finds, "abandoned queries are removed")
	assert.Equal(t, 1, pings)
}

func TestDiscoverNoPeers(t *testing.T) {
	tt := newTestTable(t)
	_, err := tt.Discover(context.Background(), randomID(t))
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestDiscoverSingleFlight(t *testing.T) {
	tt := newTestTable(t)
	tt.NoteActiveNode(idInBucket(tt.self, 300, 1), publicEndpoint(1))

	tt.lookupMu.Lock()
	_, err := tt.Discover(context.Background(), randomID(t))
	tt.lookupMu.Unlock()

	assert.ErrorIs(t, err, ErrLookupInProgress)
}

func TestDiscoverContextCancelled(t *testing.T) {
	tt := newTestTable(t)
	tt.NoteActiveNode(idInBucket(tt.self, 300, 1), publicEndpoint(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tt.Discover(ctx, randomID(t))

	assert.ErrorIs(t, err, context.Canceled)
	_, finds := tt.pending.size()
	assert.Zero(t, finds)
}

func TestDiscoverAfterClose(t *testing.T) {
	tt := newTestTable(t)
	tt.NoteActiveNode(idInBucket(tt.self, 300, 1), publicEndpoint(1))
	require.NoError(t, tt.Close())

	_, err := tt.Discover(context.Background(), randomID(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseUnblocksDiscover(t *testing.T) {
	tt := newTestTable(t, func(c *Config) { c.PingTimeout = time.Minute })
	tt.NoteActiveNode(idInBucket(tt.self, 300, 1), publicEndpoint(1))

	errc := make(chan error, 1)
	go func() {
		_, err := tt.Discover(context.Background(), randomID(t))
		errc <- err
	}()
	assert.Eventually(t, func() bool {
		_, finds := tt.pending.size()
		return finds == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, tt.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Discover did not return after Close")
	}
}
