package gossip

import "sync"

// PeerIdentity is an opaque, equality-comparable label a peer is known
// by. It never appears on the wire bare; wire.Presence carries the same
// value as a plain string so pkg/wire does not need to import gossip.
type PeerIdentity string

// PeerPresence is a peer as known to the local MembershipBook.
// WriteSlot is nil whenever the presence is about to be gossiped to a
// third party: it is a local fan-out handle, never wire-visible.
type PeerPresence struct {
	ID        PeerIdentity
	Addr      string
	WriteSlot *int
}

// MembershipBook is a peer's local view of other peers reachable via an
// established link. An entry exists iff the link is established, never
// merely pending in the Resolver.
type MembershipBook struct {
	mu    sync.RWMutex
	peers map[PeerIdentity]PeerPresence
}

func newMembershipBook() *MembershipBook {
	return &MembershipBook{peers: map[PeerIdentity]PeerPresence{}}
}

// Put inserts or replaces presence.
func (b *MembershipBook) Put(p PeerPresence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[p.ID] = p
}

// Get returns the presence known for id, if any.
func (b *MembershipBook) Get(id PeerIdentity) (PeerPresence, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.peers[id]
	return p, ok
}

// Has reports whether id is a member.
func (b *MembershipBook) Has(id PeerIdentity) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.peers[id]
	return ok
}

// Delete removes id from the book.
func (b *MembershipBook) Delete(id PeerIdentity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, id)
}

// Len reports the number of known peers.
func (b *MembershipBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Snapshot returns a copy of every known presence, safe to range over
// without holding the book's lock.
func (b *MembershipBook) Snapshot() []PeerPresence {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PeerPresence, 0, len(b.peers))
	for _, p := range b.peers {
		out = append(out, p)
	}
	return out
}
