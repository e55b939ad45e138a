package transport

import (
	"net"
)

// PacketHandler processes a verified packet. from is the address the
// datagram arrived from, which may differ from any endpoint the packet
// itself advertises.
type PacketHandler func(env *Envelope, from *net.UDPAddr) error

// Transport is the packet-level view of the network used by the node
// table. UDPTransport satisfies it; tests substitute an in-memory fake.
type Transport interface {
	// Send signs and writes p to addr and returns the packet hash.
	Send(p Packet, addr *net.UDPAddr) ([]byte, error)

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// RegisterHandler registers a handler for a specific packet type.
	RegisterHandler(packetType PacketType, handler PacketHandler)
}
