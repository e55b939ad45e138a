package dht

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

func lanEndpoint(n int) transport.Endpoint {
	return transport.Endpoint{IP: net.IPv4(10, 0, byte(n>>8), byte(n)).To4(), UDP: 30303}
}

func neighboursSent(tt *testTable) (packets int, nodes []transport.NeighbourNode) {
	for _, s := range tt.tr.SentOfType(transport.PacketNeighbours) {
		packets++
		nodes = append(nodes, s.packet.(*transport.Neighbours).Nodes...)
	}
	return packets, nodes
}

func TestHandleFindNodeFromUnknownSender(t *testing.T) {
	tt := newTestTable(t)
	tt.NoteActiveNode(idInBucket(tt.self, 300, 1), publicEndpoint(1))

	err := tt.tr.SimulateReceive(&transport.FindNode{Target: tt.self}, idInBucket(tt.self, 301, 1), publicEndpoint(2))

	assert.ErrorIs(t, err, errUnknownNode)
	assert.Empty(t, tt.tr.SentOfType(transport.PacketNeighbours))
}

func TestHandleFindNodeChunksReply(t *testing.T) {
	tt := newTestTable(t)
	for i := 0; i < 200; i++ {
		tt.NoteActiveNode(randomID(t), publicEndpoint(i))
	}
	requester := tt.Nodes()[0]
	target := randomID(t)

	require.NoError(t, tt.tr.SimulateReceive(&transport.FindNode{Target: target}, requester.ID, requester.Endpoint))

	want := 0
	for _, e := range tt.FindNode(target) {
		if e.ID != requester.ID {
			want++
		}
	}
	packets, nodes := neighboursSent(tt)
	assert.Len(t, nodes, want)
	assert.Equal(t, want/transport.MaxNeighbours+1, packets, "reply ends with a short chunk")
	for _, s := range tt.tr.SentOfType(transport.PacketNeighbours) {
		assert.LessOrEqual(t, len(s.packet.(*transport.Neighbours).Nodes), transport.MaxNeighbours)
		assert.Equal(t, int(requester.Endpoint.UDP), s.addr.Port)
	}
	for _, n := range nodes {
		assert.NotEqual(t, requester.ID, n.ID, "requester is not told about itself")
	}
}

func TestHandleFindNodeEmptyReply(t *testing.T) {
	tt := newTestTable(t)
	requester := idInBucket(tt.self, 300, 1)
	tt.NoteActiveNode(requester, publicEndpoint(1))

	require.NoError(t, tt.tr.SimulateReceive(&transport.FindNode{Target: requester}, requester, publicEndpoint(1)))

	packets, nodes := neighboursSent(tt)
	assert.Equal(t, 1, packets, "an empty answer is still sent")
	assert.Empty(t, nodes)
}

func TestHandleFindNodeFullChunkGetsTerminator(t *testing.T) {
	tt := newTestTable(t)
	require.Less(t, transport.MaxNeighbours, tt.cfg.BucketSize)

	requester := idInBucket(tt.self, 300, 1)
	tt.NoteActiveNode(requester, publicEndpoint(0))
	for i := 1; i <= transport.MaxNeighbours; i++ {
		tt.NoteActiveNode(idInBucket(tt.self, 300+i, 1), publicEndpoint(i))
	}

	require.NoError(t, tt.tr.SimulateReceive(&transport.FindNode{Target: tt.self}, requester, publicEndpoint(0)))

	sent := tt.tr.SentOfType(transport.PacketNeighbours)
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].packet.(*transport.Neighbours).Nodes, transport.MaxNeighbours)
	assert.Empty(t, sent[1].packet.(*transport.Neighbours).Nodes)
}

func TestHandleNeighboursEmptyChunkCompletesRequest(t *testing.T) {
	tt := newTestTable(t)
	peer := idInBucket(tt.self, 300, 1)

	req := &pendingRequest{kind: RequestFindNode, target: peer, hasTarget: true, sentAt: testEpoch, done: make(chan struct{})}
	_, err := tt.pending.addFind(req, func() error { return nil })
	require.NoError(t, err)

	full := make([]transport.NeighbourNode, transport.MaxNeighbours)
	for i := range full {
		full[i] = transport.NeighbourNode{ID: idInBucket(tt.self, 310+i, 1), Endpoint: publicEndpoint(i + 1)}
	}
	require.NoError(t, tt.tr.SimulateReceive(&transport.Neighbours{Nodes: full}, peer, publicEndpoint(0)))
	select {
	case <-req.done:
		t.Fatal("a full chunk must not complete the request")
	default:
	}

	require.NoError(t, tt.tr.SimulateReceive(&transport.Neighbours{}, peer, publicEndpoint(0)))
	<-req.done
	assert.Len(t, req.nodes, transport.MaxNeighbours)
}

func TestHandleFindNodeRelayFilter(t *testing.T) {
	tt := newTestTable(t)
	for i := 0; i < 4; i++ {
		tt.NoteActiveNode(idInBucket(tt.self, 400, uint16(i)), lanEndpoint(i))
	}
	publicPeer := idInBucket(tt.self, 401, 1)
	tt.NoteActiveNode(publicPeer, publicEndpoint(1))
	lanPeer := idInBucket(tt.self, 400, 99)
	tt.NoteActiveNode(lanPeer, lanEndpoint(99))

	// A public requester never learns LAN addresses.
	require.NoError(t, tt.tr.SimulateReceive(&transport.FindNode{Target: tt.self}, publicPeer, publicEndpoint(1)))
	_, nodes := neighboursSent(tt)
	assert.Empty(t, nodes)

	// A LAN requester does.
	tt.tr.ResetSent()
	require.NoError(t, tt.tr.SimulateReceive(&transport.FindNode{Target: tt.self}, lanPeer, lanEndpoint(99)))
	_, nodes = neighboursSent(tt)
	assert.Len(t, nodes, 5)
}

func TestHandleFindNodeRateLimit(t *testing.T) {
	tt := newTestTable(t, func(c *Config) {
		c.FindNodeRate = 1
		c.FindNodeBurst = 2
	})
	requester := idInBucket(tt.self, 300, 1)
	tt.NoteActiveNode(requester, publicEndpoint(1))

	find := &transport.FindNode{Target: requester}
	require.NoError(t, tt.tr.SimulateReceive(find, requester, publicEndpoint(1)))
	require.NoError(t, tt.tr.SimulateReceive(find, requester, publicEndpoint(1)))
	err := tt.tr.SimulateReceive(find, requester, publicEndpoint(1))
	assert.ErrorIs(t, err, errRateLimited)

	// Tokens refill with time.
	tt.clock.Add(1500 * time.Millisecond)
	assert.NoError(t, tt.tr.SimulateReceive(find, requester, publicEndpoint(1)))
}

func TestHandleNeighboursUnsolicited(t *testing.T) {
	tt := newTestTable(t)
	err := tt.tr.SimulateReceive(&transport.Neighbours{}, idInBucket(tt.self, 300, 1), publicEndpoint(1))
	assert.ErrorIs(t, err, errUnsolicitedReply)
}

func TestHandleNeighboursFiltersNodes(t *testing.T) {
	tt := newTestTable(t)
	peer := idInBucket(tt.self, 300, 1)

	req := &pendingRequest{kind: RequestFindNode, target: peer, hasTarget: true, sentAt: testEpoch, done: make(chan struct{})}
	_, err := tt.pending.addFind(req, func() error { return nil })
	require.NoError(t, err)

	good := transport.NeighbourNode{ID: idInBucket(tt.self, 302, 1), Endpoint: publicEndpoint(2)}
	reply := &transport.Neighbours{Nodes: []transport.NeighbourNode{
		good,
		{ID: tt.self, Endpoint: publicEndpoint(3)},
		{ID: idInBucket(tt.self, 303, 1), Endpoint: lanEndpoint(1)},
		{ID: idInBucket(tt.self, 304, 1), Endpoint: transport.Endpoint{IP: net.IPv4(127, 0, 0, 1), UDP: 1}},
		{ID: idInBucket(tt.self, 305, 1), Endpoint: transport.Endpoint{IP: net.IPv4(1, 1, 1, 1)}},
	}}
	require.NoError(t, tt.tr.SimulateReceive(reply, peer, publicEndpoint(1)))

	<-req.done
	require.Len(t, req.nodes, 1)
	assert.Equal(t, good.ID, req.nodes[0].ID)
	assert.Zero(t, tt.Count(), "replies alone do not add nodes")
}

func TestHandlePacketCountsReceived(t *testing.T) {
	tt := newTestTable(t)
	reg := prometheus.NewRegistry()
	tt.metrics = NewMetrics(reg)

	var id crypto.NodeID
	id[0] = 1
	require.NoError(t, tt.tr.SimulateReceive(&transport.PingNode{Version: transport.Version}, id, publicEndpoint(1)))
	_ = tt.tr.SimulateReceive(&transport.Neighbours{}, id, publicEndpoint(1))

	assert.Equal(t, 2.0, counterValue(t, reg, "discv_packets_received_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "discv_packets_sent_total"), "pong and the ping to the new node")
}
