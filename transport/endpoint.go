package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a peer's network location. Discovery uses the UDP port; the
// TCP port is advertised for application traffic and is zero when unknown.
type Endpoint struct {
	IP  net.IP
	UDP uint16
	TCP uint16
}

// NewEndpoint builds an endpoint from a UDP address. IPv4 addresses are
// stored in their 4-byte form so endpoints compare and encode consistently.
func NewEndpoint(addr *net.UDPAddr, tcpPort uint16) Endpoint {
	return Endpoint{IP: normalizeIP(addr.IP), UDP: uint16(addr.Port), TCP: tcpPort}
}

// ResolveEndpoint parses a host:port string, resolving host names, and uses
// the port for both UDP and TCP.
func ResolveEndpoint(hostport string) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if addr.IP == nil {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, hostport)
	}
	return NewEndpoint(addr, uint16(addr.Port)), nil
}

// UDPAddr returns the discovery address of the endpoint.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: int(e.UDP)}
}

// Equal compares endpoints by address and ports.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.IP.Equal(o.IP) && e.UDP == o.UDP && e.TCP == o.TCP
}

// SameUDP reports whether both endpoints share the discovery address,
// ignoring the TCP port.
func (e Endpoint) SameUDP(o Endpoint) bool {
	return e.IP.Equal(o.IP) && e.UDP == o.UDP
}

// Key returns a stable map key for the discovery address.
func (e Endpoint) Key() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(int(e.UDP)))
}

// String returns host:udp, with the TCP port appended when it differs.
func (e Endpoint) String() string {
	s := e.Key()
	if e.TCP != 0 && e.TCP != e.UDP {
		s += fmt.Sprintf("?tcp=%d", e.TCP)
	}
	return s
}

func normalizeIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}
