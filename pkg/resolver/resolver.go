// Package resolver drives half-open peer links through the mandatory
// Join handshake until each is either Established (with the remote's
// presence known) or dropped, silently, on failure or timeout.
package resolver

import (
	"errors"
	"sync"

	"github.com/mcastellin/golang-mastery/netsim/pkg/link"
	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"github.com/mcastellin/golang-mastery/netsim/pkg/wire"
	"go.uber.org/zap"
)

// DefaultHandshakeDeadlineNs is the per-link handshake timeout applied
// when a caller does not configure one: 5 seconds of virtual time.
const DefaultHandshakeDeadlineNs int64 = 5_000_000_000

// ErrHandshakeTimeout and ErrHandshakeProtocol are never returned to
// Poll's caller (handshake failure is always silent, per spec); they
// exist only to give the drop a name in logs.
var (
	ErrHandshakeTimeout  = errors.New("resolver: handshake deadline exceeded")
	ErrHandshakeProtocol = errors.New("resolver: non-Join packet before handshake completed")
)

// Direction records which side of the link initiated it. Both sides
// send their own Join immediately on birth; Direction only affects
// logging and the duplicate-dial suppression hint.
type Direction int

const (
	Dialing Direction = iota
	Accepted
)

// Established is yielded by Poll once the remote's Join has arrived on
// the link. Whether this side's own Join has reached the remote is not
// checked.
type Established struct {
	Read     *link.ReadHalf
	Write    *link.WriteHalf
	Remote   wire.Presence
	Dir      Direction
}

type pending struct {
	dir        Direction
	read       *link.ReadHalf
	write      *link.WriteHalf
	deadlineNs int64
	expectedID string // "" when unknown (e.g. the bootstrap contact dial)
}

// Resolver holds the set of in-progress links: links still dialing, or
// accepted sockets still waiting on the peer's Join.
type Resolver struct {
	mu          sync.Mutex
	pendingByFd map[vnk.Fd]*pending
	order       []vnk.Fd // insertion order, scanned FIFO by Poll
	deadlineNs  int64
	logger      *zap.Logger
}

// New creates an empty Resolver. handshakeDeadlineNs <= 0 selects
// DefaultHandshakeDeadlineNs. A nil logger is replaced with a no-op one.
func New(handshakeDeadlineNs int64, logger *zap.Logger) *Resolver {
	if handshakeDeadlineNs <= 0 {
		handshakeDeadlineNs = DefaultHandshakeDeadlineNs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		pendingByFd: map[vnk.Fd]*pending{},
		deadlineNs:  handshakeDeadlineNs,
		logger:      logger,
	}
}

// Add registers a new half-open link and buffers this peer's Join
// packet on it, per the mandatory handshake: every new link, on either
// side, announces its sender before anything else happens. A dialing
// link's fd is not yet connected at the VNK level at Add time (the far
// side establishes the connection only when it calls Accept), so the
// Join is flushed opportunistically here and retried by each later Poll
// that reaches this link, until it actually leaves the buffer.
// expectedID is the remote identity already known from a membership
// gossip response, or "" for the initial, address-only bootstrap dial.
func (r *Resolver) Add(dir Direction, read *link.ReadHalf, write *link.WriteHalf, self wire.Presence, nowNs int64, expectedID string) error {
	if err := write.Buffer(wire.Join{Presence: self}); err != nil {
		return err
	}
	_ = write.PollFlush()

	r.mu.Lock()
	defer r.mu.Unlock()

	fd := read.Fd()
	r.pendingByFd[fd] = &pending{
		dir:        dir,
		read:       read,
		write:      write,
		deadlineNs: nowNs + r.deadlineNs,
		expectedID: expectedID,
	}
	r.order = append(r.order, fd)
	return nil
}

// Has reports whether id is already the known target of some pending
// link, used to suppress duplicate dials.
func (r *Resolver) Has(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fd := range r.order {
		if p, ok := r.pendingByFd[fd]; ok && p.expectedID == id {
			return true
		}
	}
	return false
}

// Poll walks the pending links in FIFO order, giving each one flush and
// one non-blocking read attempt and dropping any that fail the codec or
// time out, until a link's Join arrives; it returns that link. Links
// after it are neither flushed, read nor checked for timeout this call.
// It is meant to be called once per engine scheduling tick ("pump the
// Resolver once").
func (r *Resolver) Poll(nowNs int64) (Established, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.order[:0]
	var found Established
	foundOK := false

	for _, fd := range r.order {
		p, ok := r.pendingByFd[fd]
		if !ok {
			continue
		}
		if foundOK {
			next = append(next, fd)
			continue
		}

		_ = p.write.PollFlush()

		pkt, ok, err := p.read.Poll()
		switch {
		case err != nil:
			r.logger.Debug("resolver: dropping link, bad frame during handshake", zap.Int("fd", int(fd)), zap.Error(err))
			p.write.Shutdown()
			delete(r.pendingByFd, fd)
			continue
		case ok:
			join, isJoin := pkt.(wire.Join)
			if !isJoin {
				r.logger.Debug("resolver: dropping link", zap.Int("fd", int(fd)), zap.Error(ErrHandshakeProtocol))
				p.write.Shutdown()
				delete(r.pendingByFd, fd)
				continue
			}
			found = Established{Read: p.read, Write: p.write, Remote: join.Presence, Dir: p.dir}
			foundOK = true
			delete(r.pendingByFd, fd)
			continue
		case nowNs >= p.deadlineNs:
			r.logger.Debug("resolver: dropping link", zap.Int("fd", int(fd)), zap.Error(ErrHandshakeTimeout))
			p.write.Shutdown()
			delete(r.pendingByFd, fd)
			continue
		default:
			next = append(next, fd)
		}
	}

	r.order = next
	return found, foundOK
}

// Len reports the number of links still in progress.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
