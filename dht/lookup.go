package dht

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// Discover runs an iterative lookup for target and returns the closest
// nodes it found, closest first. Every node learned on the way is offered
// to the table through NoteActiveNode.
//
// Each round queries up to Alpha not yet queried candidates in parallel.
// The lookup ends when a round brings nothing closer than the best node
// seen so far, when no candidates are left to query, or after
// MaxLookupRounds. Only one lookup runs at a time.
func (t *NodeTable) Discover(ctx context.Context, target crypto.NodeID) ([]NodeEntry, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	if !t.lookupMu.TryLock() {
		return nil, ErrLookupInProgress
	}
	defer t.lookupMu.Unlock()

	start := time.Now()
	defer func() { t.metrics.observeLookup(time.Since(start)) }()

	shortlist := t.FindNode(target)
	if len(shortlist) == 0 {
		return nil, ErrNoPeers
	}

	seen := map[crypto.NodeID]bool{t.self: true}
	for _, e := range shortlist {
		seen[e.ID] = true
	}
	asked := make(map[crypto.NodeID]bool)
	best := shortlist[0].ID

	round := 0
	for ; round < t.cfg.MaxLookupRounds; round++ {
		batch := make([]NodeEntry, 0, t.cfg.Alpha)
		for _, e := range shortlist {
			if len(batch) == t.cfg.Alpha {
				break
			}
			if !asked[e.ID] {
				asked[e.ID] = true
				batch = append(batch, e)
			}
		}
		if len(batch) == 0 {
			break
		}

		replies := make([][]transport.NeighbourNode, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, e := range batch {
			g.Go(func() error {
				nodes, err := t.queryFindNode(gctx, e, target)
				replies[i] = nodes
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return shortlist, err
		}

		for _, nodes := range replies {
			for _, n := range nodes {
				if seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				t.NoteActiveNode(n.ID, n.Endpoint)
				shortlist = append(shortlist, NodeEntry{ID: n.ID, Endpoint: n.Endpoint, State: StateUnknown})
			}
		}
		sortByDistance(target, shortlist)
		if len(shortlist) > t.cfg.BucketSize {
			shortlist = shortlist[:t.cfg.BucketSize]
		}

		if DistCmp(target, shortlist[0].ID, best) >= 0 {
			round++
			break
		}
		best = shortlist[0].ID
	}

	logrus.WithFields(logrus.Fields{
		"function": "Discover",
		"target":   target.Short(),
		"rounds":   round,
		"queried":  len(asked),
		"found":    len(shortlist),
		"table":    t.Count(),
	}).Debug("Lookup finished")
	return shortlist, nil
}

// queryFindNode asks one node for the neighbours of target and waits for
// the reply. A missing reply is not an error: the node simply contributes
// nothing. Only cancellation of ctx or closing the table fail the query.
func (t *NodeTable) queryFindNode(ctx context.Context, e NodeEntry, target crypto.NodeID) ([]transport.NeighbourNode, error) {
	req := &pendingRequest{
		kind:      RequestFindNode,
		target:    e.ID,
		hasTarget: true,
		endpoint:  e.Endpoint,
		sentAt:    t.clock.Now(),
		done:      make(chan struct{}),
	}
	find := &transport.FindNode{Target: target}
	sent, err := t.pending.addFind(req, func() error {
		_, err := t.send(find, e.Endpoint.UDPAddr())
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "queryFindNode",
			"node_id":  e.ID.Short(),
			"error":    err.Error(),
		}).Debug("Failed to send findnode")
		return nil, nil
	}
	if !sent {
		return nil, nil
	}

	// Tick normally expires the request; the timer covers a stalled reactor.
	timer := time.NewTimer(2 * t.cfg.PingTimeout)
	defer timer.Stop()

	select {
	case <-req.done:
		if t.isClosed() {
			return nil, ErrClosed
		}
		return req.nodes, nil
	case <-timer.C:
		t.pending.cancelFind(req)
		return nil, nil
	case <-ctx.Done():
		t.pending.cancelFind(req)
		return nil, ctx.Err()
	case <-t.closing:
		return nil, ErrClosed
	}
}
