// Package wire implements the length-delimited framing and packet codec
// used on every peer link.
package wire

import "fmt"

// Tag identifies the wire representation of a Packet.
type Tag byte

const (
	// TagJoin announces the sender's presence. Sent first on every new link.
	TagJoin Tag = iota + 1
	// TagGetPeers requests or returns membership.
	TagGetPeers
	// TagPush carries an opaque application payload.
	TagPush
)

func (t Tag) String() string {
	switch t {
	case TagJoin:
		return "Join"
	case TagGetPeers:
		return "GetPeers"
	case TagPush:
		return "Push"
	default:
		return fmt.Sprintf("Tag(%d)", byte(t))
	}
}

// Presence is the wire form of a peer's identity and address. It never
// carries a write slot: that index is a purely local handle and is
// cleared before a PeerPresence is gossiped to a third party.
type Presence struct {
	ID   string
	Addr string
}

// Packet is the sum type of everything that can travel over a link.
// Dispatch by exhaustive type switch, per the tagged-variant design
// used throughout this codebase.
type Packet interface {
	tag() Tag
}

// Join is sent immediately by both sides of a new link, and each side
// awaits the other's Join before the link is exposed to the engine.
type Join struct {
	Presence Presence
}

func (Join) tag() Tag { return TagJoin }

// GetPeers is either a request (List == nil) for the receiver's
// membership, or a response carrying it (List != nil, and may be empty).
type GetPeers struct {
	List []Presence // nil means "request"
}

func (GetPeers) tag() Tag { return TagGetPeers }

// Push carries an application payload. Push packets are not
// retransmitted by the receiver: see the Gossip Engine's dispatch table.
type Push struct {
	Data []byte
}

func (Push) tag() Tag { return TagPush }
