// Package discv implements Kademlia peer discovery over signed UDP packets.
//
// A Node owns a secp256k1 identity, a UDP socket and a node table, and runs
// a single reactor goroutine that reads packets, answers pings and
// neighbour requests, expires unanswered requests and keeps the table
// populated.
//
// # Getting Started
//
//	options := discv.NewOptions()
//	options.ListenAddr = "0.0.0.0:30303"
//
//	boot, err := discv.ParseBootNode("<128-hex-node-id>@203.0.113.7:30303")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	options.BootNodes = []discv.BootNode{boot}
//
//	node, err := discv.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	nodes, err := node.Discover(ctx, node.Self())
//
// # Lifecycle
//
// Start runs the reactor and blocks until it is listening. Stop pauses it
// and keeps the table; Start resumes. Close is final: it stops the reactor,
// fails lookups in progress with dht.ErrClosed and releases the socket.
//
// # Automatic Discovery
//
// While the table holds fewer than Options.MinPeers entries, the reactor
// starts a lookup at most every Options.DiscoverInterval, alternating
// between the node's own id and random targets. Lookups run on their own
// goroutine, one at a time.
//
// # Subpackages
//
//   - crypto: node identities, signing and the injectable clock
//   - transport: the wire codec, endpoints, address classes and the UDP socket
//   - dht: the node table, request tracking and iterative lookup
//   - worker: the start/stop/terminate lifecycle of the reactor goroutine
//   - config: YAML configuration for cmd/discnode
package discv
