// Package gossip is the Gossip Engine: a per-peer, single-threaded
// cooperative state machine that converges a listening address and an
// optional bootstrap contact into a connected membership view, and
// disseminates opaque payloads with at-most-once-per-link forwarding.
//
// Push does not re-broadcast: a payload reaches only the direct
// neighbors of whoever called Writer().Push. Flooding a broadcast to
// the whole mesh needs every peer connected to every other peer, or an
// explicit dedup-and-relay layer this engine deliberately does not
// add (see original_source/libraries/gossip1/src/gossip.rs, whose
// Push handler has the identical direct-neighbors-only behavior).
package gossip

import (
	"context"

	"github.com/mcastellin/golang-mastery/netsim/pkg/link"
	"github.com/mcastellin/golang-mastery/netsim/pkg/resolver"
	"github.com/mcastellin/golang-mastery/netsim/pkg/sys"
	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"github.com/mcastellin/golang-mastery/netsim/pkg/wire"
	"go.uber.org/zap"
)

// Config selects an engine's identity, bind/contact addresses, and the
// tunables spec.md §6 names as recognized configuration options.
type Config struct {
	ListenAddr          string
	ContactAddr         string // "" selects no bootstrap contact
	SelfID              string
	PerLinkLatencyNs    int64
	MaxFrameBytes       int
	HandshakeDeadlineNs int64
	OutputBuffer        int // capacity of the Output channel; <= 0 selects 256
}

type inboundItem struct {
	from PeerIdentity
	pkt  wire.Packet
}

// Engine is one peer's gossip state machine. Its MembershipBook,
// Resolver, and inbound queue are touched only from the goroutine
// running Serve's loop, never concurrently, per the cooperative
// single-threaded scheduling model: the only methods safe to call from
// another goroutine are Writer(), Book() and Output().
type Engine struct {
	id     PeerIdentity
	addr   string
	cfg    Config
	kernel *vnk.Kernel
	facade *sys.Facade
	logger *zap.Logger

	listenFd vnk.Fd
	resolver *resolver.Resolver
	book     *MembershipBook
	fanout   *FanOut

	readers map[PeerIdentity]*link.ReadHalf
	inbox   []inboundItem

	output  chan []byte
	closing chan chan error
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs an Engine bound to cfg.ListenAddr on the shared
// kernel. If cfg.ContactAddr is set, a dial is started immediately and
// seeded into the Resolver, per spec.md §4.4's construction effects.
func New(kernel *vnk.Kernel, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("peer", cfg.SelfID))

	facade := sys.New(kernel, logger)
	listenFd := facade.Socket()
	if err := facade.Bind(listenFd, cfg.ListenAddr, cfg.PerLinkLatencyNs); err != nil {
		return nil, err
	}
	facade.EpollCtlAdd(listenFd, sys.Readable, uint64(listenFd))

	outputBuffer := cfg.OutputBuffer
	if outputBuffer <= 0 {
		outputBuffer = 256
	}

	e := &Engine{
		id:       PeerIdentity(cfg.SelfID),
		addr:     cfg.ListenAddr,
		cfg:      cfg,
		kernel:   kernel,
		facade:   facade,
		logger:   logger,
		listenFd: listenFd,
		resolver: resolver.New(cfg.HandshakeDeadlineNs, logger),
		book:     newMembershipBook(),
		fanout:   newFanOut(),
		readers:  map[PeerIdentity]*link.ReadHalf{},
		output:   make(chan []byte, outputBuffer),
		closing:  make(chan chan error),
		done:     make(chan struct{}),
	}

	if cfg.ContactAddr != "" {
		if err := e.dial(cfg.ContactAddr, ""); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) selfPresence() wire.Presence {
	return wire.Presence{ID: string(e.id), Addr: e.addr}
}

func (e *Engine) dial(addr string, expectedID PeerIdentity) error {
	fd := e.facade.Socket()
	if err := e.facade.Connect(fd, addr); err != nil {
		return err
	}
	r, w := link.New(fd, e.facade, e.cfg.MaxFrameBytes)
	e.facade.EpollCtlAdd(fd, sys.Readable, uint64(fd))
	return e.resolver.Add(resolver.Dialing, r, w, e.selfPresence(), e.kernel.Now(), string(expectedID))
}

// Serve starts the engine's scheduling loop in its own goroutine. It
// returns immediately; call Shutdown to stop it.
func (e *Engine) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.runLoop(ctx)
}

// Shutdown stops the engine's loop and shuts down every fan-out
// write-half, mirroring the closing-channel rendezvous the teacher's
// Gossiper.Shutdown uses. The loop may be parked inside a blocking
// EpollWait rather than selecting on the closing channel, so Shutdown
// also cancels the internal context Serve derived: that is the one
// wakeup EpollWait itself listens for, and it guarantees runLoop
// notices the request even when it isn't between ticks. Safe to call
// more than once or after the loop already exited on its own.
func (e *Engine) Shutdown() error {
	errCh := make(chan error, 1)
	select {
	case e.closing <- errCh:
		err := <-errCh
		if e.cancel != nil {
			e.cancel()
		}
		return err
	default:
	}

	if e.cancel == nil {
		// Serve was never called; there is no loop to wait for.
		return nil
	}
	e.cancel()
	<-e.done
	return nil
}

// Writer exposes the broadcast API: Push(payload) reaches every peer
// currently in the FanOut table, and only those peers.
func (e *Engine) Writer() Writer { return Writer{fanout: e.fanout} }

// Writer broadcasts application payloads to every live fan-out slot.
type Writer struct{ fanout *FanOut }

// Push buffers and flushes payload as a Push packet on every write-half
// currently in the FanOut table.
func (w Writer) Push(payload []byte) error {
	return w.fanout.Broadcast(payload)
}

// Output is the engine's lazy sequence of received application
// payloads, in arrival order.
func (e *Engine) Output() <-chan []byte { return e.output }

// Book returns the engine's current membership view. Safe to call
// concurrently with Serve's loop.
func (e *Engine) Book() *MembershipBook { return e.book }

// ID returns the engine's own identity.
func (e *Engine) ID() PeerIdentity { return e.id }

func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.done)
	defer e.shutdownAll()

	for {
		select {
		case errCh := <-e.closing:
			errCh <- nil
			return
		default:
		}

		if e.tick() {
			continue
		}

		select {
		case errCh := <-e.closing:
			errCh <- nil
			return
		case <-ctx.Done():
			return
		default:
			if _, _, ok := e.facade.EpollWait(ctx); !ok {
				return
			}
		}
	}
}

func (e *Engine) shutdownAll() {
	for _, p := range e.book.Snapshot() {
		if p.WriteSlot != nil {
			e.fanout.Shutdown(*p.WriteSlot)
		}
	}
}

// tick performs one scheduling step and reports whether it made
// progress, per spec.md §4.4's main-loop ordering: accept one pending
// inbound socket, pump the Resolver once, pump established readers
// into the inbound queue, then dispatch at most one inbound packet.
func (e *Engine) tick() bool {
	progressed := false

	if fd, ok := e.facade.Accept(e.listenFd); ok {
		r, w := link.New(fd, e.facade, e.cfg.MaxFrameBytes)
		e.facade.EpollCtlAdd(fd, sys.Readable, uint64(fd))
		if err := e.resolver.Add(resolver.Accepted, r, w, e.selfPresence(), e.kernel.Now(), ""); err != nil {
			e.logger.Warn("gossip: failed to register accepted link", zap.Error(err))
		} else {
			progressed = true
		}
	}

	if est, ok := e.resolver.Poll(e.kernel.Now()); ok {
		e.onEstablished(est)
		progressed = true
	}

	for id, r := range e.readers {
		pkt, ok, err := r.Poll()
		if err != nil {
			e.logger.Debug("gossip: bad frame, closing link", zap.String("remote", string(id)), zap.Error(err))
			e.closeLink(id)
			progressed = true
			continue
		}
		if ok {
			e.inbox = append(e.inbox, inboundItem{from: id, pkt: pkt})
			progressed = true
		}
	}

	if len(e.inbox) > 0 {
		item := e.inbox[0]
		e.inbox = e.inbox[1:]
		e.dispatch(item.from, item.pkt)
		progressed = true
	}

	return progressed
}

// onEstablished handles one Resolver.Poll success: duplicate/self
// collapse, FanOut/MembershipBook insertion, and the bootstrap probe.
func (e *Engine) onEstablished(est resolver.Established) {
	remoteID := PeerIdentity(est.Remote.ID)

	if remoteID == e.id || e.book.Has(remoteID) {
		e.logger.Debug("gossip: collapsing duplicate link", zap.String("remote", string(remoteID)), zap.Error(ErrDuplicateIdentity))
		est.Write.Shutdown()
		return
	}

	wasEmpty := e.book.Len() == 0

	idx := e.fanout.Append(est.Write)
	e.book.Put(PeerPresence{ID: remoteID, Addr: est.Remote.Addr, WriteSlot: &idx})
	e.readers[remoteID] = est.Read

	if wasEmpty {
		if err := e.sendTo(est.Write, wire.GetPeers{List: nil}); err != nil {
			e.logger.Warn("gossip: bootstrap GetPeers failed", zap.Error(err))
		}
	}
}

func (e *Engine) dispatch(from PeerIdentity, pkt wire.Packet) {
	switch p := pkt.(type) {
	case wire.GetPeers:
		if p.List == nil {
			e.handleGetPeersRequest(from)
		} else {
			e.handleGetPeersResponse(p.List)
		}
	case wire.Push:
		select {
		case e.output <- p.Data:
		default:
			e.logger.Warn("gossip: output buffer full, dropping payload", zap.String("from", string(from)))
		}
	case wire.Join:
		e.logger.Warn("gossip: Join seen post-handshake", zap.String("remote", string(from)), zap.Error(ErrProtocolViolation))
		e.closeLink(from)
	}
}

func (e *Engine) handleGetPeersRequest(from PeerIdentity) {
	presence, ok := e.book.Get(from)
	if !ok || presence.WriteSlot == nil {
		return
	}
	w := e.fanout.Get(*presence.WriteSlot)
	if w == nil {
		return
	}

	all := e.book.Snapshot()
	list := make([]wire.Presence, 0, len(all))
	for _, p := range all {
		if p.ID == from {
			continue
		}
		list = append(list, wire.Presence{ID: string(p.ID), Addr: p.Addr})
	}

	if err := e.sendTo(w, wire.GetPeers{List: list}); err != nil {
		e.logger.Warn("gossip: GetPeers reply failed", zap.String("to", string(from)), zap.Error(err))
	}
}

func (e *Engine) handleGetPeersResponse(list []wire.Presence) {
	for _, p := range list {
		id := PeerIdentity(p.ID)
		if id == e.id || e.book.Has(id) || e.resolver.Has(p.ID) {
			continue
		}
		if err := e.dial(p.Addr, id); err != nil {
			e.logger.Warn("gossip: dial from GetPeers response failed", zap.String("target", p.ID), zap.Error(err))
		}
	}
}

func (e *Engine) sendTo(w *link.WriteHalf, pkt wire.Packet) error {
	if err := w.Buffer(pkt); err != nil {
		return err
	}
	return w.PollFlush()
}

func (e *Engine) closeLink(id PeerIdentity) {
	if p, ok := e.book.Get(id); ok {
		if p.WriteSlot != nil {
			e.fanout.Shutdown(*p.WriteSlot)
		}
		e.book.Delete(id)
	}
	delete(e.readers, id)
}
