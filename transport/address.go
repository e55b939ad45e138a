package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// AddressClass describes where an IP address can be reached from.
type AddressClass uint8

const (
	// AddressClassInvalid is returned for nil or malformed addresses.
	AddressClassInvalid AddressClass = iota
	// AddressClassUnspecified is the wildcard address (0.0.0.0 or ::).
	AddressClassUnspecified
	// AddressClassLocalHost covers loopback addresses.
	AddressClassLocalHost
	// AddressClassPrivate covers RFC 1918 and RFC 4193 ranges.
	AddressClassPrivate
	// AddressClassSpecial covers link-local and multicast addresses.
	AddressClassSpecial
	// AddressClassPublic is anything routable on the internet.
	AddressClassPublic
)

// String returns a human-readable representation of the AddressClass.
func (c AddressClass) String() string {
	switch c {
	case AddressClassInvalid:
		return "invalid"
	case AddressClassUnspecified:
		return "unspecified"
	case AddressClassLocalHost:
		return "localhost"
	case AddressClassPrivate:
		return "private"
	case AddressClassSpecial:
		return "special"
	case AddressClassPublic:
		return "public"
	default:
		return fmt.Sprintf("AddressClass(%d)", uint8(c))
	}
}

// ClassifyIP places ip into exactly one AddressClass.
func ClassifyIP(ip net.IP) AddressClass {
	switch {
	case len(ip) != net.IPv4len && len(ip) != net.IPv6len:
		return AddressClassInvalid
	case ip.IsUnspecified():
		return AddressClassUnspecified
	case ip.IsLoopback():
		return AddressClassLocalHost
	case ip.IsPrivate():
		return AddressClassPrivate
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsInterfaceLocalMulticast(), ip.IsMulticast():
		return AddressClassSpecial
	default:
		return AddressClassPublic
	}
}

// ParseIP parses a textual IP address. Unlike net.ParseIP it reports an
// error for empty or malformed input instead of returning nil.
func ParseIP(s string) (net.IP, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return normalizeIP(ip), nil
}

// IsPrivateAddress reports whether ip lies in a private network range.
func IsPrivateAddress(ip net.IP) bool {
	return ClassifyIP(ip) == AddressClassPrivate
}

// IsPublicAddress reports whether ip is routable on the internet.
func IsPublicAddress(ip net.IP) bool {
	return ClassifyIP(ip) == AddressClassPublic
}

// IsLocalHostAddress reports whether ip is a loopback address.
func IsLocalHostAddress(ip net.IP) bool {
	return ClassifyIP(ip) == AddressClassLocalHost
}

// IsUnspecified reports whether ip is the wildcard address.
func IsUnspecified(ip net.IP) bool {
	return ClassifyIP(ip) == AddressClassUnspecified
}

// isLAN is true for addresses that are only meaningful inside the local
// network of the host that reported them.
func isLAN(ip net.IP) bool {
	c := ClassifyIP(ip)
	return c == AddressClassLocalHost || c == AddressClassPrivate
}

var (
	errRelayUnspecified = errors.New("unspecified address")
	errRelayLoopback    = errors.New("loopback address from non-loopback host")
	errRelayLAN         = errors.New("LAN address from WAN host")
	errRelaySpecial     = errors.New("special network address")
)

// CheckRelayIP reports whether addr may be relayed between sender and a
// recipient. Loopback addresses only travel between loopback hosts and LAN
// addresses never leave the LAN.
func CheckRelayIP(sender, addr net.IP) error {
	switch ClassifyIP(addr) {
	case AddressClassInvalid:
		return ErrInvalidAddress
	case AddressClassUnspecified:
		return errRelayUnspecified
	case AddressClassSpecial:
		return errRelaySpecial
	case AddressClassLocalHost:
		if !sender.IsLoopback() {
			return errRelayLoopback
		}
	case AddressClassPrivate:
		if !isLAN(sender) {
			return errRelayLAN
		}
	}
	return nil
}
