package transport

import (
	"errors"

	"github.com/opd-ai/discv/crypto"
)

// Decode and receive errors. Every one of these results in the datagram
// being dropped; none of them is fatal to the transport.
var (
	ErrPacketTooSmall     = errors.New("packet too small")
	ErrOversized          = errors.New("datagram exceeds maximum size")
	ErrBadHash            = errors.New("bad packet hash")
	ErrUnknownPacketType  = errors.New("unknown packet type")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrExpired            = errors.New("packet expired")
	ErrFutureExpiration   = errors.New("packet expiration too far in the future")
	ErrNoHandler          = errors.New("no handler for packet type")
	ErrClosed             = errors.New("transport closed")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrUnsupportedAddress = errors.New("unsupported address type")
)

// DropReason maps a receive error to a short label for logs and metrics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrPacketTooSmall):
		return "too_small"
	case errors.Is(err, ErrOversized):
		return "oversized"
	case errors.Is(err, ErrBadHash):
		return "bad_hash"
	case errors.Is(err, crypto.ErrRecoveryFailed):
		return "bad_signature"
	case errors.Is(err, ErrUnknownPacketType):
		return "unknown_type"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrFutureExpiration):
		return "future"
	case errors.Is(err, ErrNoHandler):
		return "no_handler"
	case errors.Is(err, ErrUnsupportedAddress):
		return "bad_source"
	default:
		return "handler"
	}
}

// isHostile reports whether a decode error indicates forged or corrupted
// data rather than a benign condition such as expiry.
func isHostile(err error) bool {
	return errors.Is(err, ErrBadHash) || errors.Is(err, crypto.ErrRecoveryFailed)
}
