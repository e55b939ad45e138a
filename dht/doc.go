// Package dht implements the Kademlia node table used for peer discovery:
// bucketed peer storage, liveness tracking through ping timeouts, and
// iterative closest-node lookup.
//
// # Architecture
//
// Each node keeps a NodeTable organised into 512 k-buckets, one per
// distance class. The distance class of a peer is bitlen(self XOR peer)-1,
// so bucket 511 holds half the id space and bucket 0 holds a single id.
//
// Key components:
//
//   - NodeTable: buckets, id index, pending requests and packet handlers
//   - kBucket: up to k entry handles, least recently seen first, plus a
//     queue of replacement candidates
//   - pendingSet: outstanding pings keyed by endpoint and FindNode requests
//     keyed by the queried id
//   - Metrics: optional Prometheus collectors
//
// Entries live in a single arena and are addressed by handle, so a bucket
// and the id index always agree on the one canonical entry for an id.
//
// # Liveness
//
// Entries move through three states:
//
//	const (
//	    StateUnknown EntryState = iota // learned, not in the table
//	    StatePending                   // inserted and pinged
//	    StateActive                    // answered with a valid Pong
//	)
//
// A Pong is valid when it comes from the pinged endpoint and echoes the
// hash of the ping. A ping that goes unanswered for PingTimeout evicts its
// entry and promotes the oldest replacement candidate. Live entries are
// never displaced by unverified newcomers: a full bucket only changes when
// its least recently seen entry fails a ping.
//
// # Usage
//
//	table, err := dht.NewNodeTable(key.ID, udp, dht.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	table.Ping(bootEndpoint)
//
//	// On the reactor goroutine:
//	for {
//	    udp.Poll(50 * time.Millisecond)
//	    table.Tick(time.Now())
//	}
//
//	// Anywhere else:
//	closest, err := table.Discover(ctx, target)
//
// Discover blocks until its lookup finishes and must not be called from the
// goroutine that polls the transport, since replies are delivered there.
//
// # Abuse Resistance
//
// FindNode is only answered for senders already in the table, and each
// source IP is rate limited. Neighbours are only accepted as replies to an
// outstanding FindNode, and nodes whose addresses could not be reached by
// the recipient (loopback or LAN addresses relayed across networks) are
// neither sent nor accepted.
package dht
