package transport

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/opd-ai/discv/crypto"
)

// Wire layout: hash || signature || type || payload.
const (
	hashSize = crypto.HashLength
	sigSize  = crypto.SignatureLength
	headSize = hashSize + sigSize

	// MinPacketSize is the smallest datagram that can carry a packet.
	MinPacketSize = headSize + 1

	// DefaultExpirationWindow is how long an encoded packet stays valid.
	DefaultExpirationWindow = 60 * time.Second
	// DefaultMaxClockSkew is how far beyond the expiration window a
	// received expiration may lie before the packet is rejected.
	DefaultMaxClockSkew = 10 * time.Second
)

// MaxNeighbours is the largest number of nodes that fits into a single
// Neighbours packet without exceeding DefaultMaxDatagramSize.
var MaxNeighbours = computeMaxNeighbours(DefaultMaxDatagramSize)

func computeMaxNeighbours(limit int) int {
	p := Neighbours{Expiration: ^uint64(0)}
	widest := NeighbourNode{Endpoint: Endpoint{IP: make(net.IP, net.IPv6len), UDP: ^uint16(0), TCP: ^uint16(0)}}
	for n := 0; ; n++ {
		p.Nodes = append(p.Nodes, widest)
		enc, err := rlp.EncodeToBytes(&p)
		if err != nil {
			panic("cannot encode neighbours: " + err.Error())
		}
		if headSize+1+len(enc) >= limit {
			return n
		}
	}
}

// Envelope is a verified, decoded packet together with what the codec
// learned from its header.
type Envelope struct {
	Packet Packet
	// Sender is the id recovered from the signature.
	Sender crypto.NodeID
	// Hash is the packet's integrity hash; a Pong echoes it.
	Hash []byte
}

// Codec signs outbound packets with the local identity and verifies inbound
// ones. It is safe for concurrent use.
type Codec struct {
	key              *crypto.KeyPair
	clock            crypto.TimeProvider
	expirationWindow time.Duration
	maxClockSkew     time.Duration
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithTimeProvider sets the clock used for expiration.
func WithTimeProvider(tp crypto.TimeProvider) CodecOption {
	return func(c *Codec) { c.clock = crypto.OrDefault(tp) }
}

// WithExpirationWindow sets how far in the future outbound packets expire.
func WithExpirationWindow(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d > 0 {
			c.expirationWindow = d
		}
	}
}

// WithMaxClockSkew sets the tolerance for expirations beyond the window.
func WithMaxClockSkew(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d >= 0 {
			c.maxClockSkew = d
		}
	}
}

// NewCodec creates a codec signing with key.
func NewCodec(key *crypto.KeyPair, opts ...CodecOption) *Codec {
	c := &Codec{
		key:              key,
		clock:            crypto.GetDefaultTimeProvider(),
		expirationWindow: DefaultExpirationWindow,
		maxClockSkew:     DefaultMaxClockSkew,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns the id packets are signed as.
func (c *Codec) Self() crypto.NodeID {
	return c.key.ID
}

// Expiration returns the expiration stamped on a packet encoded now.
func (c *Codec) Expiration() uint64 {
	exp, err := crypto.UnixFromTime(c.clock.Now().Add(c.expirationWindow))
	if err != nil {
		return 0
	}
	return exp
}

// Encode signs p and returns the datagram and its hash. A zero expiration
// is replaced with Expiration().
func (c *Codec) Encode(p Packet) (packet, hash []byte, err error) {
	if exp := p.expiration(); *exp == 0 {
		*exp = c.Expiration()
	}

	b := new(bytes.Buffer)
	b.Write(make([]byte, headSize))
	b.WriteByte(byte(p.Type()))
	if err := rlp.Encode(b, p); err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", p.Type(), err)
	}
	packet = b.Bytes()

	sig, err := crypto.Sign(crypto.Keccak256(packet[headSize:]), c.key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign %s: %w", p.Type(), err)
	}
	copy(packet[hashSize:], sig)

	hash = crypto.Keccak256(packet[hashSize:])
	copy(packet, hash)
	return packet, hash, nil
}

// Decode verifies and decodes a datagram. The returned envelope does not
// alias buf.
func (c *Codec) Decode(buf []byte) (*Envelope, error) {
	if len(buf) < MinPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooSmall, len(buf))
	}

	hash, sig, sigdata := buf[:hashSize], buf[hashSize:headSize], buf[headSize:]
	if !bytes.Equal(hash, crypto.Keccak256(buf[hashSize:])) {
		return nil, ErrBadHash
	}

	sender, err := crypto.RecoverNodeID(crypto.Keccak256(sigdata), sig)
	if err != nil {
		return nil, err
	}

	p, err := decodePayload(PacketType(sigdata[0]), sigdata[1:])
	if err != nil {
		return nil, err
	}
	if err := c.checkExpiration(p.Expires()); err != nil {
		return nil, fmt.Errorf("%s from %s: %w", p.Type(), sender.Short(), err)
	}

	return &Envelope{
		Packet: p,
		Sender: sender,
		Hash:   append([]byte(nil), hash...),
	}, nil
}

func (c *Codec) checkExpiration(ts uint64) error {
	now := c.clock.Now()
	exp, err := crypto.TimeFromUnix(ts)
	if err != nil {
		return ErrFutureExpiration
	}
	if exp.Before(now) {
		return ErrExpired
	}
	if exp.After(now.Add(c.expirationWindow + c.maxClockSkew)) {
		return ErrFutureExpiration
	}
	return nil
}
