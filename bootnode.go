package discv

import (
	"fmt"
	"strings"

	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// BootNode is a known entry point into the network. A zero ID means only
// the address is known; the node is then pinged and added once it answers.
type BootNode struct {
	ID       crypto.NodeID
	Endpoint transport.Endpoint
}

// ParseBootNode parses "<128-hex-id>@host:port". The "enode://" prefix is
// accepted, and the id part may be omitted.
func ParseBootNode(s string) (BootNode, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "enode://")

	var bn BootNode
	hostport := s
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		id, err := crypto.ParseNodeID(s[:at])
		if err != nil {
			return BootNode{}, fmt.Errorf("boot node %q: %w", s, err)
		}
		bn.ID = id
		hostport = s[at+1:]
	}

	ep, err := transport.ResolveEndpoint(hostport)
	if err != nil {
		return BootNode{}, fmt.Errorf("boot node %q: %w", s, err)
	}
	if ep.UDP == 0 {
		return BootNode{}, fmt.Errorf("boot node %q: %w: port 0", s, transport.ErrInvalidAddress)
	}
	bn.Endpoint = ep
	return bn, nil
}

// ParseBootNodes parses each string with ParseBootNode.
func ParseBootNodes(list []string) ([]BootNode, error) {
	nodes := make([]BootNode, 0, len(list))
	for _, s := range list {
		bn, err := ParseBootNode(s)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, bn)
	}
	return nodes, nil
}

// String formats the boot node the way ParseBootNode reads it.
func (b BootNode) String() string {
	if b.ID.IsZero() {
		return b.Endpoint.Key()
	}
	return b.ID.String() + "@" + b.Endpoint.Key()
}
