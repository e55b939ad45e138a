package discv

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/dht"
	"github.com/opd-ai/discv/transport"
	"github.com/opd-ai/discv/worker"
)

// ErrNoBootNodes is returned by Bootstrap when called without nodes.
var ErrNoBootNodes = errors.New("no boot nodes")

// Options contains configuration options for creating a Node.
type Options struct {
	// ListenAddr is the UDP address to bind, e.g. "0.0.0.0:30303".
	ListenAddr string
	// TCPPort is the application port reported by Endpoint. Zero reports
	// the UDP port.
	TCPPort uint16
	// KeyPair is the node identity. Nil generates a fresh one.
	KeyPair *crypto.KeyPair
	// BootNodes are noted in the table every time the node starts.
	BootNodes []BootNode

	BucketSize      int
	Alpha           int
	PingTimeout     time.Duration
	RefreshInterval time.Duration
	MaxLookupRounds int

	ExpirationWindow time.Duration
	MaxClockSkew     time.Duration
	MaxDatagramSize  int

	// MinPeers triggers a lookup whenever the table holds fewer entries.
	// Zero disables automatic discovery.
	MinPeers int
	// DiscoverInterval is the minimum time between automatic lookups.
	DiscoverInterval time.Duration
	// PollTimeout bounds how long one reactor iteration waits for a
	// datagram.
	PollTimeout time.Duration
	// IdleWait is slept between reactor iterations.
	IdleWait time.Duration

	// TimeProvider supplies the clock for packet expiry and table timers.
	TimeProvider crypto.TimeProvider
	// Registerer receives the node's metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	table := dht.DefaultConfig()
	return &Options{
		ListenAddr:       "0.0.0.0:30303",
		BucketSize:       table.BucketSize,
		Alpha:            table.Alpha,
		PingTimeout:      table.PingTimeout,
		RefreshInterval:  table.RefreshInterval,
		MaxLookupRounds:  table.MaxLookupRounds,
		ExpirationWindow: transport.DefaultExpirationWindow,
		MaxClockSkew:     transport.DefaultMaxClockSkew,
		MaxDatagramSize:  transport.DefaultMaxDatagramSize,
		MinPeers:         8,
		DiscoverInterval: 10 * time.Second,
		PollTimeout:      50 * time.Millisecond,
	}
}

// tableConfig derives the NodeTable configuration.
func (o *Options) tableConfig(metrics *dht.Metrics) *dht.Config {
	cfg := dht.DefaultConfig()
	cfg.BucketSize = o.BucketSize
	cfg.Alpha = o.Alpha
	cfg.PingTimeout = o.PingTimeout
	cfg.RefreshInterval = o.RefreshInterval
	cfg.MaxLookupRounds = o.MaxLookupRounds
	cfg.TimeProvider = o.TimeProvider
	cfg.Metrics = metrics
	return cfg
}

// Node is a discovery participant: it owns the identity, the UDP transport,
// the node table and the reactor worker that drives them.
type Node struct {
	options   *Options
	keyPair   *crypto.KeyPair
	clock     crypto.TimeProvider
	transport *transport.UDPTransport
	table     *dht.NodeTable
	metrics   *dht.Metrics
	worker    *worker.Worker

	ctx    context.Context
	cancel context.CancelFunc

	// Automatic discovery. lastDiscover and discoverRuns are only touched
	// by the reactor.
	discovering  atomic.Bool
	lastDiscover time.Time
	discoverRuns int
	lookups      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New creates a Node and binds its socket. The node does not process
// packets until Start is called.
func New(options *Options) (*Node, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.PollTimeout <= 0 {
		return nil, fmt.Errorf("poll timeout must be positive, got %s", options.PollTimeout)
	}

	keyPair := options.KeyPair
	if keyPair == nil {
		var err error
		if keyPair, err = crypto.GenerateKeyPair(); err != nil {
			return nil, err
		}
	}

	var metrics *dht.Metrics
	if options.Registerer != nil {
		metrics = dht.NewMetrics(options.Registerer)
	}

	codec := transport.NewCodec(keyPair,
		transport.WithTimeProvider(options.TimeProvider),
		transport.WithExpirationWindow(options.ExpirationWindow),
		transport.WithMaxClockSkew(options.MaxClockSkew),
	)
	udp, err := transport.NewUDPTransport(options.ListenAddr, codec,
		transport.WithMaxDatagramSize(options.MaxDatagramSize),
	)
	if err != nil {
		return nil, err
	}
	udp.OnDrop(func(_ *net.UDPAddr, err error) { metrics.ObserveDropped(err) })

	table, err := dht.NewNodeTable(keyPair.ID, udp, options.tableConfig(metrics))
	if err != nil {
		_ = udp.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		options:   options,
		keyPair:   keyPair,
		clock:     crypto.OrDefault(options.TimeProvider),
		transport: udp,
		table:     table,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
	n.worker = worker.New("discv", n, options.IdleWait)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"node_id":  keyPair.ID.Short(),
		"listen":   udp.LocalAddr().String(),
	}).Info("Discovery node created")
	return n, nil
}

// Start runs the reactor. It blocks until the node is listening.
func (n *Node) Start() error {
	return n.worker.Start()
}

// Stop pauses the reactor. Table contents are kept and Start resumes.
func (n *Node) Stop() {
	n.worker.Stop()
}

// Close stops the reactor for good, abandons outstanding requests and
// releases the socket.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.worker.Terminate()
		n.cancel()
		tableErr := n.table.Close()
		n.lookups.Wait()
		n.closeErr = multierr.Combine(tableErr, n.transport.Close())

		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"node_id":  n.keyPair.ID.Short(),
		}).Info("Discovery node closed")
	})
	return n.closeErr
}

// Self returns the local node id.
func (n *Node) Self() crypto.NodeID {
	return n.keyPair.ID
}

// KeyPair returns the node identity.
func (n *Node) KeyPair() *crypto.KeyPair {
	return n.keyPair
}

// Endpoint returns the local endpoint as bound.
func (n *Node) Endpoint() transport.Endpoint {
	addr, ok := n.transport.LocalAddr().(*net.UDPAddr)
	if !ok {
		return transport.Endpoint{}
	}
	tcp := n.options.TCPPort
	if tcp == 0 {
		tcp = uint16(addr.Port)
	}
	return transport.NewEndpoint(addr, tcp)
}

// BootNode returns the "<id>@host:port" form other nodes bootstrap from.
func (n *Node) BootNode() BootNode {
	return BootNode{ID: n.Self(), Endpoint: n.Endpoint()}
}

// Listening reports whether the reactor is running.
func (n *Node) Listening() bool {
	return n.worker.State() == worker.Started
}

// Count returns the number of table entries.
func (n *Node) Count() int {
	return n.table.Count()
}

// Nodes returns a snapshot of the table.
func (n *Node) Nodes() []dht.NodeEntry {
	return n.table.Nodes()
}

// Discover runs an iterative lookup for target.
func (n *Node) Discover(ctx context.Context, target crypto.NodeID) ([]dht.NodeEntry, error) {
	return n.table.Discover(ctx, target)
}

// Ping sends a ping to endpoint; the responder is added when it answers.
func (n *Node) Ping(endpoint transport.Endpoint) {
	n.table.Ping(endpoint)
}

// Bootstrap notes each boot node in the table. Boot nodes without an id
// are pinged instead.
func (n *Node) Bootstrap(nodes ...BootNode) error {
	if len(nodes) == 0 {
		return ErrNoBootNodes
	}
	if n.isClosed() {
		return dht.ErrClosed
	}
	for _, bn := range nodes {
		if bn.ID.IsZero() {
			n.table.Ping(bn.Endpoint)
			continue
		}
		n.table.NoteActiveNode(bn.ID, bn.Endpoint)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Bootstrap",
		"count":    len(nodes),
		"table":    n.table.Count(),
	}).Info("Bootstrapping")
	return nil
}

func (n *Node) isClosed() bool {
	return n.ctx.Err() != nil
}

// randomTarget returns a random id to look up.
func randomTarget() crypto.NodeID {
	var id crypto.NodeID
	_, _ = rand.Read(id[:])
	return id
}
