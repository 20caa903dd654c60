// Package packets defines the messages carried by the frame protocol: the payload
// contract every packet implements, the request/response variant, the reserved system
// packets and the registry that maps packet types to their one byte wire ids.
package packets

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/dcrodman/parley/internal/core/bytes"
)

// Payload is a unit of fields that knows how to write itself to and read itself
// from a frame.
type Payload interface {
	EncodePayload(w *bytes.Writer) error
	DecodePayload(r *bytes.Reader) error
}

// Packet is any message that can be registered and sent over a connection.
type Packet interface {
	Payload
}

// Side identifies which end of a connection is acting.
type Side uint8

const (
	SideClient Side = iota
	SideServer
)

func (s Side) String() string {
	if s == SideServer {
		return "server"
	}
	return "client"
}

// Peer returns the opposite side.
func (s Side) Peer() Side {
	if s == SideServer {
		return SideClient
	}
	return SideServer
}

// SendRule declares which side may legally send a packet.
type SendRule uint8

const (
	SendClient SendRule = iota
	SendServer
	SendBoth
)

// Allows reports whether a packet with this rule may be sent by side.
func (r SendRule) Allows(side Side) bool {
	switch r {
	case SendClient:
		return side == SideClient
	case SendServer:
		return side == SideServer
	default:
		return true
	}
}

func (r SendRule) String() string {
	switch r {
	case SendClient:
		return "CLIENT"
	case SendServer:
		return "SERVER"
	default:
		return "BOTH"
	}
}

// Ruled is implemented by packets that can only be sent by one side. Packets that
// don't implement it may be sent by both.
type Ruled interface {
	SendRule() SendRule
}

// RuleOf returns the send rule declared by p. Respondable packets always travel in
// both directions since their response flows back to the requester.
func RuleOf(p Packet) SendRule {
	if _, ok := p.(Respondable); ok {
		return SendBoth
	}
	if r, ok := p.(Ruled); ok {
		return r.SendRule()
	}
	return SendBoth
}

// AnonymousName is the name a connection carries until it has authenticated.
const AnonymousName = "anonymous"

// NormalizeIdentity trims whitespace and converts the identity to Unicode NFC so
// that visually identical names claimed with different encodings collide.
func NormalizeIdentity(identity string) string {
	return norm.NFC.String(strings.TrimSpace(identity))
}
