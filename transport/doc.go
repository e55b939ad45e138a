// Package transport implements the wire layer of the discovery protocol:
// packet types, the signing codec, endpoint and address handling, and a
// polled UDP transport.
//
// # Wire format
//
// Every datagram is laid out as
//
//	hash(32) || signature(65) || type(1) || payload
//
// where payload is the RLP encoding of one of PingNode, Pong, FindNode or
// Neighbours. The signature covers keccak256(type || payload) and the hash
// covers everything after itself. The sender's identity is never carried
// explicitly; it is recovered from the signature.
//
//	codec := transport.NewCodec(key)
//	data, hash, err := codec.Encode(&transport.PingNode{Version: transport.Version, From: from, To: to})
//	env, err := codec.Decode(data) // env.Sender == key.ID
//
// Packets carry an absolute expiration in unix seconds. Decode rejects
// packets that have expired, and packets whose expiration lies further
// ahead than the expiration window plus the allowed clock skew.
//
// # UDP Transport
//
// UDPTransport owns one socket and no goroutines. Its owner calls Poll in a
// loop; each call reads at most one datagram, verifies it and runs the
// registered handler synchronously:
//
//	t, err := transport.NewUDPTransport("0.0.0.0:30303", codec)
//	t.RegisterHandler(transport.PacketPingNode, onPing)
//	for {
//	    if err := t.Poll(50 * time.Millisecond); err != nil {
//	        break
//	    }
//	}
//
// Datagrams that fail to decode, arrive twice, or exceed the maximum
// datagram size are dropped. They are logged and reported through OnDrop
// but never returned from Poll.
//
// # Addresses
//
// ClassifyIP sorts addresses into classes and CheckRelayIP decides whether
// an endpoint learned from one peer may be handed to another. Loopback and
// LAN addresses are only relayed between hosts that can reach them.
package transport
