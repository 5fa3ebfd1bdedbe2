package gossip

import "errors"

// ErrProtocolViolation marks a link closed because it sent Join after
// the handshake (Join is only ever valid as the first packet, and that
// one is consumed by the Resolver, never by dispatch).
var ErrProtocolViolation = errors.New("gossip: protocol violation")

// ErrDuplicateIdentity marks a link silently shut down because its
// remote identity was already in the MembershipBook (or was self).
var ErrDuplicateIdentity = errors.New("gossip: duplicate identity")
