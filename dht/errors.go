package dht

import "errors"

var (
	// ErrLookupInProgress is returned by Discover while another lookup runs.
	ErrLookupInProgress = errors.New("lookup already in progress")
	// ErrNoPeers is returned by Discover when the table is empty.
	ErrNoPeers = errors.New("no known peers")
	// ErrClosed is returned once the table has been closed.
	ErrClosed = errors.New("node table closed")

	errUnsolicitedReply = errors.New("unsolicited reply")
	errUnknownNode      = errors.New("request from unknown node")
	errRateLimited      = errors.New("request rate limited")
	errUnexpectedPacket = errors.New("unexpected packet type")
)
