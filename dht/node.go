package dht

import (
	"fmt"
	"time"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// EntryState is the liveness state of a table entry.
type EntryState uint8

const (
	// StateUnknown marks a node learned from a Neighbours reply that has not
	// been inserted into the table.
	StateUnknown EntryState = iota
	// StatePending marks an entry that was pinged but has not answered.
	StatePending
	// StateActive marks an entry that answered a ping with a valid Pong.
	StateActive
)

// String returns a human-readable representation of the EntryState.
func (s EntryState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("EntryState(%d)", uint8(s))
	}
}

// PingStats tracks ping statistics for an entry.
type PingStats struct {
	LastPingSent time.Time
	PingCount    uint32
	PongCount    uint32
}

// NodeEntry is a peer known to the table. Values returned by the table are
// copies; mutating them does not affect the table.
type NodeEntry struct {
	ID       crypto.NodeID
	Endpoint transport.Endpoint
	State    EntryState
	// LastSeen is when the peer last answered a ping.
	LastSeen  time.Time
	AddedAt   time.Time
	PingStats PingStats
}

// lastContact is the most recent time the entry was pinged, answered or
// inserted.
func (e *NodeEntry) lastContact() time.Time {
	t := e.AddedAt
	if e.LastSeen.After(t) {
		t = e.LastSeen
	}
	if e.PingStats.LastPingSent.After(t) {
		t = e.PingStats.LastPingSent
	}
	return t
}

// recordPingSent marks that a ping was sent to this entry.
func (e *NodeEntry) recordPingSent(now time.Time) {
	e.PingStats.LastPingSent = now
	e.PingStats.PingCount++
}

// recordPong marks the entry verified at endpoint.
func (e *NodeEntry) recordPong(now time.Time, endpoint transport.Endpoint) {
	e.PingStats.PongCount++
	e.LastSeen = now
	e.State = StateActive
	e.Endpoint = endpoint
}

// Reliability returns the share of pings that were answered (0.0-1.0).
func (e NodeEntry) Reliability() float64 {
	if e.PingStats.PingCount == 0 {
		return 0.0
	}
	r := float64(e.PingStats.PongCount) / float64(e.PingStats.PingCount)
	if r > 1 {
		r = 1
	}
	return r
}
