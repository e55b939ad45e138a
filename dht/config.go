package dht

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/opd-ai/discv/crypto"
)

// Config holds the tunables of a NodeTable.
type Config struct {
	// BucketSize is k: the capacity of each bucket and the size of lookup
	// results.
	BucketSize int
	// Alpha is the number of FindNode queries sent in parallel per lookup
	// round.
	Alpha int
	// PingTimeout is how long a ping or FindNode waits for its reply.
	PingTimeout time.Duration
	// RefreshInterval is how long a bucket's least-recently-seen entry may
	// go without contact before it is pinged again.
	RefreshInterval time.Duration
	// MaxLookupRounds bounds the number of rounds of one Discover call.
	MaxLookupRounds int
	// MaxReplacements bounds each bucket's replacement queue.
	MaxReplacements int
	// FindNodeRate and FindNodeBurst limit FindNode requests answered per
	// source IP.
	FindNodeRate  rate.Limit
	FindNodeBurst int
	// TimeProvider supplies the clock. Nil means wall-clock time.
	TimeProvider crypto.TimeProvider
	// Metrics is optional.
	Metrics *Metrics
}

// DefaultConfig returns the standard Kademlia parameters.
func DefaultConfig() *Config {
	return &Config{
		BucketSize:      16,
		Alpha:           3,
		PingTimeout:     300 * time.Millisecond,
		RefreshInterval: time.Minute,
		MaxLookupRounds: 8,
		MaxReplacements: 16,
		FindNodeRate:    10,
		FindNodeBurst:   20,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.BucketSize <= 0:
		return fmt.Errorf("bucket size must be positive, got %d", c.BucketSize)
	case c.Alpha <= 0:
		return fmt.Errorf("alpha must be positive, got %d", c.Alpha)
	case c.PingTimeout <= 0:
		return fmt.Errorf("ping timeout must be positive, got %s", c.PingTimeout)
	case c.RefreshInterval <= 0:
		return fmt.Errorf("refresh interval must be positive, got %s", c.RefreshInterval)
	case c.MaxLookupRounds <= 0:
		return fmt.Errorf("max lookup rounds must be positive, got %d", c.MaxLookupRounds)
	case c.MaxReplacements < 0:
		return fmt.Errorf("max replacements must not be negative, got %d", c.MaxReplacements)
	case c.FindNodeRate <= 0 || c.FindNodeBurst <= 0:
		return fmt.Errorf("findnode rate limit must be positive")
	}
	return nil
}
