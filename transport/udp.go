package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxDatagramSize is the largest datagram sent or accepted.
const DefaultMaxDatagramSize = 1280

// UDPTransport carries discovery packets over a single UDP socket. It does
// not start any goroutines: the owner calls Poll repeatedly, and handlers
// run synchronously on the polling goroutine.
type UDPTransport struct {
	conn        net.PacketConn
	codec       *Codec
	handlers    map[PacketType]PacketHandler
	onDatagram  func(from *net.UDPAddr, data []byte)
	onDrop      func(from *net.UDPAddr, err error)
	maxDatagram int
	buffer      []byte
	mu          sync.RWMutex
	closed      atomic.Bool
}

// UDPOption configures a UDPTransport.
type UDPOption func(*UDPTransport)

// WithMaxDatagramSize overrides DefaultMaxDatagramSize.
func WithMaxDatagramSize(n int) UDPOption {
	return func(t *UDPTransport) {
		if n >= MinPacketSize {
			t.maxDatagram = n
		}
	}
}

// NewUDPTransport binds listenAddr and returns a transport that signs with
// codec.
func NewUDPTransport(listenAddr string, codec *Codec, opts ...UDPOption) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewUDPTransport",
			"address":  listenAddr,
			"error":    err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, fmt.Errorf("bind udp %s: %w", listenAddr, err)
	}

	t := &UDPTransport{
		conn:        conn,
		codec:       codec,
		handlers:    make(map[PacketType]PacketHandler),
		maxDatagram: DefaultMaxDatagramSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	// One spare byte lets Poll tell a full-size datagram from a truncated one.
	t.buffer = make([]byte, t.maxDatagram+1)

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPTransport",
		"address":  conn.LocalAddr().String(),
		"node_id":  codec.Self().Short(),
	}).Info("UDP transport listening")
	return t, nil
}

// RegisterHandler registers a handler for a specific packet type.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[packetType] = handler
}

// OnDatagram installs a hook called for every datagram read, before it is
// decoded.
func (t *UDPTransport) OnDatagram(fn func(from *net.UDPAddr, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDatagram = fn
}

// OnDrop installs a hook called for every datagram that is discarded.
func (t *UDPTransport) OnDrop(fn func(from *net.UDPAddr, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDrop = fn
}

// Send signs p and writes it to addr. It returns the packet hash.
func (t *UDPTransport) Send(p Packet, addr *net.UDPAddr) ([]byte, error) {
	data, hash, err := t.codec.Encode(p)
	if err != nil {
		return nil, err
	}
	if err := t.SendRaw(data, addr); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", p.Type(), addr, err)
	}
	return hash, nil
}

// SendRaw writes an already encoded datagram.
func (t *UDPTransport) SendRaw(data []byte, addr *net.UDPAddr) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(data) > t.maxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrOversized, len(data))
	}
	_, err := t.conn.WriteTo(data, addr)
	return err
}

// Poll waits up to timeout for one datagram and dispatches it. A timeout
// is not an error. Malformed, forged and expired datagrams are
// dropped and reported through OnDrop; Poll only fails once the transport
// is closed or the socket breaks.
func (t *UDPTransport) Poll(timeout time.Duration) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, from, err := t.readPacketData(timeout)
	if err != nil {
		return t.handleReadError(err)
	}
	if data == nil {
		return nil
	}

	t.mu.RLock()
	onDatagram := t.onDatagram
	t.mu.RUnlock()
	if onDatagram != nil {
		onDatagram(from, data)
	}

	if err := t.processIncomingPacket(data, from); err != nil {
		t.drop(from, err)
	}
	return nil
}

// readPacketData reads one datagram with a deadline. It returns nil data
// without error on timeout.
func (t *UDPTransport) readPacketData(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(timeout))

	n, addr, err := t.conn.ReadFrom(t.buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	from, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, nil, nil
	}
	if n > t.maxDatagram {
		t.drop(from, fmt.Errorf("%w: more than %d bytes", ErrOversized, t.maxDatagram))
		return nil, nil, nil
	}

	// Handlers may retain the datagram; give them their own copy.
	return append([]byte(nil), t.buffer[:n]...), from, nil
}

// handleReadError classifies socket errors.
func (t *UDPTransport) handleReadError(err error) error {
	if t.closed.Load() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	logrus.WithFields(logrus.Fields{
		"function": "Poll",
		"error":    err.Error(),
	}).Error("UDP read failed")
	return err
}

// processIncomingPacket decodes and dispatches one datagram. Identical
// datagrams are dispatched each time.
func (t *UDPTransport) processIncomingPacket(data []byte, from *net.UDPAddr) error {
	if ClassifyIP(from.IP) == AddressClassInvalid {
		return ErrUnsupportedAddress
	}

	env, err := t.codec.Decode(data)
	if err != nil {
		return err
	}

	return t.dispatchPacketToHandler(env, from)
}

// dispatchPacketToHandler runs the handler registered for the packet type.
func (t *UDPTransport) dispatchPacketToHandler(env *Envelope, from *net.UDPAddr) error {
	t.mu.RLock()
	handler, exists := t.handlers[env.Packet.Type()]
	t.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNoHandler, env.Packet.Type())
	}
	return handler(env, from)
}

func (t *UDPTransport) drop(from *net.UDPAddr, err error) {
	fields := logrus.Fields{
		"function": "Poll",
		"from":     from.String(),
		"reason":   DropReason(err),
		"error":    err.Error(),
	}
	if isHostile(err) {
		logrus.WithFields(fields).Warn("Dropped forged or corrupted packet")
	} else {
		logrus.WithFields(fields).Debug("Dropped packet")
	}

	t.mu.RLock()
	onDrop := t.onDrop
	t.mu.RUnlock()
	if onDrop != nil {
		onDrop(from, err)
	}
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts down the transport. Further calls return ErrClosed.
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return t.conn.Close()
}
