package transport

import (
	"fmt"
	"net"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/opd-ai/discv/crypto"
)

// PacketType identifies the kind of a discovery packet on the wire.
type PacketType byte

// Discovery packet types. Zero is reserved.
const (
	PacketPingNode PacketType = iota + 1
	PacketPong
	PacketFindNode
	PacketNeighbours
)

// String returns the packet name used in logs and metric labels.
func (t PacketType) String() string {
	switch t {
	case PacketPingNode:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketFindNode:
		return "findnode"
	case PacketNeighbours:
		return "neighbours"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

const (
	// Version is the PingNode version sent by this implementation.
	Version = 4
	// LegacyPingVersion is implied for PingNode packets that predate the
	// version field.
	LegacyPingVersion = 2
)

// Packet is one of *PingNode, *Pong, *FindNode or *Neighbours. Packets are
// turned into bytes only by a Codec, which signs them with the local key.
type Packet interface {
	Type() PacketType
	// Expires returns the absolute expiration as unix seconds.
	Expires() uint64
	expiration() *uint64
}

// PingNode probes a peer for liveness and announces the sender's endpoint.
type PingNode struct {
	Version    uint
	From, To   Endpoint
	Expiration uint64
	// Trailing fields added by newer versions are ignored.
	Rest []rlp.RawValue `rlp:"tail"`
}

// Pong answers a PingNode. EchoHash is the hash of the ping it answers and
// To mirrors the source address the ping arrived from.
type Pong struct {
	To         Endpoint
	EchoHash   []byte
	Expiration uint64
	Rest       []rlp.RawValue `rlp:"tail"`
}

// FindNode asks for the peers closest to Target.
type FindNode struct {
	Target     crypto.NodeID
	Expiration uint64
	Rest       []rlp.RawValue `rlp:"tail"`
}

// NeighbourNode is one entry of a Neighbours reply.
type NeighbourNode struct {
	Endpoint Endpoint
	ID       crypto.NodeID
}

// Neighbours answers a FindNode. Large answers span several packets.
type Neighbours struct {
	Nodes      []NeighbourNode
	Expiration uint64
	Rest       []rlp.RawValue `rlp:"tail"`
}

func (p *PingNode) Type() PacketType    { return PacketPingNode }
func (p *PingNode) Expires() uint64     { return p.Expiration }
func (p *PingNode) expiration() *uint64 { return &p.Expiration }

func (p *Pong) Type() PacketType    { return PacketPong }
func (p *Pong) Expires() uint64     { return p.Expiration }
func (p *Pong) expiration() *uint64 { return &p.Expiration }

func (p *FindNode) Type() PacketType    { return PacketFindNode }
func (p *FindNode) Expires() uint64     { return p.Expiration }
func (p *FindNode) expiration() *uint64 { return &p.Expiration }

func (p *Neighbours) Type() PacketType    { return PacketNeighbours }
func (p *Neighbours) Expires() uint64     { return p.Expiration }
func (p *Neighbours) expiration() *uint64 { return &p.Expiration }

// legacyPing is the PingNode layout used before the version field existed:
// the sender's address as text, its port and the expiration.
type legacyPing struct {
	IP         string
	Port       uint16
	Expiration uint64
}

// newPacket allocates an empty packet for a wire type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketPingNode:
		return new(PingNode), nil
	case PacketPong:
		return new(Pong), nil
	case PacketFindNode:
		return new(FindNode), nil
	case PacketNeighbours:
		return new(Neighbours), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, byte(t))
	}
}

// decodePayload decodes the RLP payload of a packet of type t.
func decodePayload(t PacketType, payload []byte) (Packet, error) {
	p, err := newPacket(t)
	if err != nil {
		return nil, err
	}

	if ping, ok := p.(*PingNode); ok {
		err = decodePing(payload, ping)
	} else {
		err = rlp.DecodeBytes(payload, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, t, err)
	}
	return p, nil
}

// decodePing accepts both the current layout and the three-field legacy one.
func decodePing(payload []byte, p *PingNode) error {
	content, _, err := rlp.SplitList(payload)
	if err != nil {
		return err
	}
	n, err := rlp.CountValues(content)
	if err != nil {
		return err
	}
	if n != 3 {
		return rlp.DecodeBytes(payload, p)
	}

	var legacy legacyPing
	if err := rlp.DecodeBytes(payload, &legacy); err != nil {
		return err
	}
	ip := net.ParseIP(legacy.IP)
	if ip == nil {
		return fmt.Errorf("legacy ping: bad address %q", legacy.IP)
	}
	*p = PingNode{
		Version:    LegacyPingVersion,
		From:       Endpoint{IP: normalizeIP(ip), UDP: legacy.Port, TCP: legacy.Port},
		Expiration: legacy.Expiration,
	}
	return nil
}
