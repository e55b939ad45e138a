package dht

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/discv/transport"
)

// HandlePacket processes a verified discovery packet received from addr.
// The table registers it with its transport for all four packet types.
func (t *NodeTable) HandlePacket(env *transport.Envelope, from *net.UDPAddr) error {
	if t.isClosed() {
		return ErrClosed
	}
	t.metrics.ObserveReceived(env.Packet.Type())

	switch p := env.Packet.(type) {
	case *transport.PingNode:
		return t.handlePing(env, p, from)
	case *transport.Pong:
		return t.handlePong(env, p, from)
	case *transport.FindNode:
		return t.handleFindNode(env, p, from)
	case *transport.Neighbours:
		return t.handleNeighbours(env, p, from)
	default:
		return fmt.Errorf("%w: %s", errUnexpectedPacket, env.Packet.Type())
	}
}

// handlePing answers with a Pong echoing the ping's hash and addressed to
// the endpoint the ping actually came from, then notes the sender.
func (t *NodeTable) handlePing(env *transport.Envelope, ping *transport.PingNode, from *net.UDPAddr) error {
	observed := transport.NewEndpoint(from, ping.From.TCP)

	pong := &transport.Pong{To: observed, EchoHash: env.Hash}
	if _, err := t.send(pong, from); err != nil {
		return fmt.Errorf("reply pong: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "handlePing",
		"node_id":  env.Sender.Short(),
		"from":     observed.String(),
		"version":  ping.Version,
	}).Debug("Answered ping")

	t.NoteActiveNode(env.Sender, observed)
	return nil
}

// handlePong resolves the ping it answers and marks the sender verified at
// the endpoint it answered from.
func (t *NodeTable) handlePong(env *transport.Envelope, pong *transport.Pong, from *net.UDPAddr) error {
	observed := transport.NewEndpoint(from, 0)

	req := t.pending.resolvePing(observed.Key(), pong.EchoHash)
	if req == nil {
		return fmt.Errorf("%w: pong from %s", errUnsolicitedReply, observed)
	}
	observed.TCP = req.endpoint.TCP

	var pings []*outboundPing
	if req.hasTarget && req.target != env.Sender {
		// Someone else now lives at the pinged endpoint.
		logrus.WithFields(logrus.Fields{
			"function": "handlePong",
			"expected": req.target.Short(),
			"node_id":  env.Sender.Short(),
			"endpoint": observed.String(),
		}).Debug("Pong from unexpected node")

		t.bucketsMu.Lock()
		pings = append(pings, t.evictStale(req.target, req.endpoint, t.clock.Now()))
		t.bucketsMu.Unlock()
	}
	pings = append(pings, t.markVerified(env.Sender, observed))

	t.sendPings(pings)
	return nil
}

// handleFindNode answers with the closest known nodes, split across as
// many Neighbours packets as needed. The last packet always carries fewer
// than MaxNeighbours nodes, so the requester knows the reply is complete.
// Only senders already in the table are answered, and each source IP is
// rate limited.
func (t *NodeTable) handleFindNode(env *transport.Envelope, find *transport.FindNode, from *net.UDPAddr) error {
	if !t.Has(env.Sender) {
		return fmt.Errorf("%w: findnode from %s", errUnknownNode, env.Sender.Short())
	}
	if !t.allowFindNode(from.IP) {
		return fmt.Errorf("%w: findnode from %s", errRateLimited, from)
	}

	closest := t.FindNode(find.Target)
	nodes := make([]transport.NeighbourNode, 0, len(closest))
	for _, e := range closest {
		if e.ID == env.Sender {
			continue
		}
		if err := transport.CheckRelayIP(from.IP, e.Endpoint.IP); err != nil {
			continue
		}
		nodes = append(nodes, transport.NeighbourNode{Endpoint: e.Endpoint, ID: e.ID})
	}

	for start := 0; ; start += transport.MaxNeighbours {
		end := start + transport.MaxNeighbours
		if end > len(nodes) {
			end = len(nodes)
		}
		reply := &transport.Neighbours{Nodes: nodes[start:end]}
		if _, err := t.send(reply, from); err != nil {
			return fmt.Errorf("reply neighbours: %w", err)
		}
		if end-start < transport.MaxNeighbours {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleFindNode",
		"node_id":  env.Sender.Short(),
		"target":   find.Target.Short(),
		"returned": len(nodes),
	}).Debug("Answered findnode")
	return nil
}

// handleNeighbours delivers a reply chunk to the FindNode outstanding to
// its sender. Self and nodes failing the relay check are dropped.
func (t *NodeTable) handleNeighbours(env *transport.Envelope, reply *transport.Neighbours, from *net.UDPAddr) error {
	nodes := make([]transport.NeighbourNode, 0, len(reply.Nodes))
	for _, n := range reply.Nodes {
		if n.ID == t.self || n.Endpoint.UDP == 0 {
			continue
		}
		if err := transport.CheckRelayIP(from.IP, n.Endpoint.IP); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleNeighbours",
				"node_id":  n.ID.Short(),
				"endpoint": n.Endpoint.String(),
				"error":    err.Error(),
			}).Debug("Ignoring relayed node")
			continue
		}
		nodes = append(nodes, n)
	}

	lastChunk := len(reply.Nodes) < transport.MaxNeighbours
	if !t.pending.deliverNeighbours(env.Sender, nodes, t.cfg.BucketSize, lastChunk) {
		return fmt.Errorf("%w: neighbours from %s", errUnsolicitedReply, env.Sender.Short())
	}
	return nil
}

// allowFindNode applies the per-IP FindNode rate limit.
func (t *NodeTable) allowFindNode(ip net.IP) bool {
	key := ip.String()
	lim, ok := t.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(t.cfg.FindNodeRate, t.cfg.FindNodeBurst)
		t.limiters.Add(key, lim)
	}
	return lim.AllowN(t.clock.Now(), 1)
}
