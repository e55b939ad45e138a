package dht

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// Tick runs periodic table maintenance at now: it expires pending requests
// and pings buckets that have gone quiet. The reactor calls it once per
// iteration; it never blocks on the network.
func (t *NodeTable) Tick(now time.Time) {
	if t.isClosed() {
		return
	}

	var pings []*outboundPing
	for _, req := range t.pending.expire(now, t.cfg.PingTimeout) {
		pings = append(pings, t.pingTimedOut(req))
	}
	pings = append(pings, t.refresh(now)...)

	t.sendPings(pings)
}

// pingTimedOut drops the entry a ping was meant for, provided it still
// lives at the pinged endpoint and has not answered since.
func (t *NodeTable) pingTimedOut(req *pendingRequest) *outboundPing {
	if !req.hasTarget {
		return nil
	}

	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "pingTimedOut",
		"node_id":  req.target.Short(),
		"endpoint": req.endpoint.String(),
	}).Debug("Ping timed out")
	return t.evictStale(req.target, req.endpoint, req.sentAt)
}

// evictStale evicts id if its entry is still at endpoint and was not seen
// after notSeenSince. Callers hold bucketsMu.
func (t *NodeTable) evictStale(id crypto.NodeID, endpoint transport.Endpoint, notSeenSince time.Time) *outboundPing {
	h, ok := t.lookup(id)
	if !ok {
		return nil
	}
	e := t.arena.get(h)
	if !e.Endpoint.SameUDP(endpoint) || e.LastSeen.After(notSeenSince) {
		return nil
	}
	return t.evict(id)
}

// refresh selects the least recently seen entry of every bucket that has
// not been contacted within RefreshInterval.
func (t *NodeTable) refresh(now time.Time) []*outboundPing {
	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()

	var pings []*outboundPing
	for i := range t.buckets {
		b := &t.buckets[i]
		if len(b.entries) == 0 {
			continue
		}
		lrs := t.arena.get(b.entries[0])
		if now.Sub(lrs.lastContact()) >= t.cfg.RefreshInterval {
			pings = append(pings, &outboundPing{id: lrs.ID, endpoint: lrs.Endpoint})
		}
	}
	return pings
}
