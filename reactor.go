package discv

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/discv/dht"
	"github.com/opd-ai/discv/transport"
)

// OnStart is called by the worker each time the node starts. It notes the
// configured boot nodes.
func (n *Node) OnStart() {
	logrus.WithFields(logrus.Fields{
		"function": "OnStart",
		"node_id":  n.Self().Short(),
		"endpoint": n.Endpoint().String(),
	}).Info("Discovery node listening")

	if len(n.options.BootNodes) > 0 {
		_ = n.Bootstrap(n.options.BootNodes...)
	}
}

// DoWork performs one reactor iteration: it handles at most one datagram,
// runs table maintenance and starts an automatic lookup when the table is
// short of peers.
func (n *Node) DoWork() {
	if err := n.transport.Poll(n.options.PollTimeout); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "DoWork",
			"error":    err.Error(),
		}).Warn("Poll failed")
	}

	now := n.clock.Now()
	n.table.Tick(now)
	n.maybeDiscover(now)
}

// OnStop is called by the worker after the last DoWork of a run.
func (n *Node) OnStop() {
	logrus.WithFields(logrus.Fields{
		"function": "OnStop",
		"node_id":  n.Self().Short(),
		"table":    n.table.Count(),
	}).Info("Discovery node stopped")
}

// maybeDiscover launches a lookup off the reactor goroutine when the table
// holds fewer than MinPeers entries. At most one runs at a time.
func (n *Node) maybeDiscover(now time.Time) {
	if n.options.MinPeers <= 0 || n.table.Count() >= n.options.MinPeers {
		return
	}
	if now.Sub(n.lastDiscover) < n.options.DiscoverInterval {
		return
	}
	if !n.discovering.CompareAndSwap(false, true) {
		return
	}
	n.lastDiscover = now

	// Alternate between our own id and random ids.
	target := n.Self()
	if n.discoverRuns%2 == 1 {
		target = randomTarget()
	}
	n.discoverRuns++

	n.lookups.Add(1)
	go func() {
		defer n.lookups.Done()
		defer n.discovering.Store(false)

		found, err := n.table.Discover(n.ctx, target)
		fields := logrus.Fields{
			"function": "maybeDiscover",
			"target":   target.Short(),
			"found":    len(found),
			"table":    n.table.Count(),
		}
		switch {
		case err == nil:
			logrus.WithFields(fields).Debug("Automatic lookup finished")
		case errors.Is(err, dht.ErrNoPeers), errors.Is(err, dht.ErrLookupInProgress):
			logrus.WithFields(fields).Debug("Automatic lookup skipped: " + err.Error())
		case errors.Is(err, dht.ErrClosed), n.isClosed():
		default:
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Automatic lookup failed")
		}
	}()
}
