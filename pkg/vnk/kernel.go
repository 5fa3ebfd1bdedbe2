// Package vnk implements the Virtual Network Kernel: a single in-process
// state machine that stands in for the operating system's socket layer
// so gossip-protocol code can run, unmodified, inside a deterministic
// simulation.
//
// The kernel owns every piece of mutable simulator state and is guarded
// by one exclusive lock, exactly as the spec requires. Protocol code
// reaches it through pkg/sys, except that the gossip engine reads the
// virtual clock directly via Now.
package vnk

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Fd is a virtual file descriptor. Values below 2 are never issued by
// the kernel; pkg/sys reserves them for real stdin/stdout.
type Fd int

// Readiness mask bits reported by EpollWait.
const (
	Readable uint32 = 1 << iota
	Writable
)

// DefaultLatencyNs is used for a node's latency when Bind does not
// specify one.
const DefaultLatencyNs int64 = 200_000

type nodeEntry struct {
	addr      string
	listenFd  Fd
	latencyNs int64
}

type epollInterest struct {
	mask  uint32
	token uint64
}

type readyEvent struct {
	fd   Fd
	mask uint32
}

// Kernel is the Virtual Network Kernel. The zero value is not usable;
// construct with New.
type Kernel struct {
	mu     sync.Mutex
	logger *zap.Logger

	defaultLatencyNs int64

	nextFd Fd

	nodesByAddr map[string]*nodeEntry
	nodesByFd   map[Fd]*nodeEntry

	connections map[Fd]Fd
	linkLatency map[Fd]int64

	events *eventQueue

	epollReg   map[Fd]epollInterest
	readyQueue []readyEvent

	clock int64
	log   []LogEntry

	closed bool
	wakeCh chan struct{}
}

// New creates an empty Kernel. defaultLatencyNs <= 0 selects
// DefaultLatencyNs.
func New(logger *zap.Logger, defaultLatencyNs int64) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLatencyNs <= 0 {
		defaultLatencyNs = DefaultLatencyNs
	}
	return &Kernel{
		logger:           logger,
		defaultLatencyNs: defaultLatencyNs,
		nextFd:           3, // fd 0/1 bypass the kernel; start clear of both and of fd 2
		nodesByAddr:      map[string]*nodeEntry{},
		nodesByFd:        map[Fd]*nodeEntry{},
		connections:      map[Fd]Fd{},
		linkLatency:      map[Fd]int64{},
		events:           newEventQueue(),
		epollReg:         map[Fd]epollInterest{},
		wakeCh:           make(chan struct{}),
	}
}

// AllocFd hands out a fresh virtual fd. pkg/sys's Socket (a fresh
// socket before connect/bind) goes through here; Accept draws its child
// socket from the same nextFd counter under the lock, so uniqueness is
// centralized in the one counter that owns fd space.
func (k *Kernel) AllocFd() Fd {
	k.mu.Lock()
	defer k.mu.Unlock()
	fd := k.nextFd
	k.nextFd++
	return fd
}

// AddNode records fd as the listening socket for addr, per a bind(2)
// call. latencyNs <= 0 selects the kernel's configured default.
func (k *Kernel) AddNode(fd Fd, addr string, latencyNs int64) error {
	if latencyNs <= 0 {
		latencyNs = k.defaultLatencyNs
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	n := &nodeEntry{addr: addr, listenFd: fd, latencyNs: latencyNs}
	k.nodesByAddr[addr] = n
	k.nodesByFd[fd] = n
	k.log = append(k.log, LogEntry{Kind: LogAddNode, Addr: addr, LatencyNs: latencyNs})

	k.logger.Debug("vnk: node bound", zap.Int("fd", int(fd)), zap.String("addr", addr), zap.Int64("latency_ns", latencyNs))
	return nil
}

// ConnectTo enqueues a Connect event against the node listening at addr,
// to fire at the destination node's configured latency from now.
func (k *Kernel) ConnectTo(src Fd, addr string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	n, ok := k.nodesByAddr[addr]
	if !ok {
		return ErrNoSuchNode
	}

	deadline := k.clock + n.latencyNs
	k.events.pushConnect(src, n.listenFd, deadline)
	k.log = append(k.log, LogEntry{Kind: LogConnect, SrcFd: src, DstFd: n.listenFd, Addr: addr})

	k.logger.Debug("vnk: connect scheduled", zap.Int("src_fd", int(src)), zap.String("addr", addr), zap.Int64("deadline_ns", deadline))
	k.wakeLocked()
	return nil
}

// Accept pops the earliest Connect event targeting listenFd, if any. On
// success it establishes a symmetric connection pair, queues both ends
// writable, and advances the virtual clock by the destination node's
// configured latency.
func (k *Kernel) Accept(listenFd Fd) (Fd, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ev, ok := k.events.takeConnectFor(listenFd)
	if !ok {
		return 0, false
	}

	newFd := k.nextFd
	k.nextFd++

	k.connections[ev.src] = newFd
	k.connections[newFd] = ev.src

	latency := k.defaultLatencyNs
	if n, ok := k.nodesByFd[listenFd]; ok {
		latency = n.latencyNs
	}
	k.linkLatency[ev.src] = latency
	k.linkLatency[newFd] = latency

	k.readyQueue = append(k.readyQueue, readyEvent{fd: ev.src, mask: Writable})
	k.readyQueue = append(k.readyQueue, readyEvent{fd: newFd, mask: Writable})

	k.clock += latency

	k.logger.Debug("vnk: accept", zap.Int("listen_fd", int(listenFd)), zap.Int("peer_fd", int(ev.src)), zap.Int("new_fd", int(newFd)), zap.Int64("clock_ns", k.clock))
	k.wakeLocked()
	return newFd, true
}

// Send schedules delivery of payload on src's peer fd, at the link's
// configured latency from now. It returns ErrDisconnected if src has no
// established peer.
func (k *Kernel) Send(src Fd, payload []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	dst, ok := k.connections[src]
	if !ok {
		return ErrDisconnected
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	deadline := k.clock + k.linkLatency[src]
	k.events.pushDeliver(dst, body, deadline)
	k.readyQueue = append(k.readyQueue, readyEvent{fd: src, mask: Writable})
	k.log = append(k.log, LogEntry{Kind: LogSend, SrcFd: src, DstFd: dst, Payload: body})

	k.logger.Debug("vnk: send", zap.Int("src_fd", int(src)), zap.Int("dst_fd", int(dst)), zap.Int("bytes", len(body)))
	k.wakeLocked()
	return nil
}

// Recv pops the earliest Deliver event addressed to dst, if any, and
// advances the virtual clock by the link's configured latency.
func (k *Kernel) Recv(dst Fd) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ev, ok := k.events.takeDeliverFor(dst)
	if !ok {
		return nil, false
	}

	k.clock += k.linkLatency[dst]
	return ev.payload, true
}

// EpollRegister records interest in fd's readiness, delivered under
// token in future EpollWait results.
func (k *Kernel) EpollRegister(fd Fd, mask uint32, token uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.epollReg[fd] = epollInterest{mask: mask, token: token}
	k.wakeLocked()
}

// EpollWait blocks until a readiness notification is available or ctx
// is done. It implements the ready_queue-then-peek discipline from the
// spec: drain already-known readiness first, then check whether the
// head of the event queue targets a registered fd. Neither check
// consumes the underlying Connect/Deliver event; only Accept/Recv do.
func (k *Kernel) EpollWait(ctx context.Context) (token uint64, mask uint32, ok bool) {
	for {
		k.mu.Lock()
		if tok, m, got := k.nextReadyLocked(); got {
			k.mu.Unlock()
			return tok, m, true
		}
		if k.closed {
			k.mu.Unlock()
			return 0, 0, false
		}
		wake := k.wakeCh
		k.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return 0, 0, false
		}
	}
}

// nextReadyLocked implements the state-machine view of epoll_wait: try
// the FIFO ready queue first, then peek the event queue head. Caller
// must hold k.mu.
func (k *Kernel) nextReadyLocked() (uint64, uint32, bool) {
	for len(k.readyQueue) > 0 {
		re := k.readyQueue[0]
		k.readyQueue = k.readyQueue[1:]
		if interest, ok := k.epollReg[re.fd]; ok && interest.mask&re.mask != 0 {
			return interest.token, re.mask, true
		}
		// fd has no matching registration (yet); drop and keep scanning.
	}

	head, ok := k.events.peek()
	if !ok {
		return 0, 0, false
	}

	switch head.kind {
	case eventConnect:
		if interest, ok := k.epollReg[head.dst]; ok {
			return interest.token, Readable | Writable, true
		}
	case eventDeliver:
		if interest, ok := k.epollReg[head.dst]; ok {
			return interest.token, Readable, true
		}
	}
	return 0, 0, false
}

// GetSockName returns the address a listening fd was bound to.
func (k *Kernel) GetSockName(fd Fd) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	n, ok := k.nodesByFd[fd]
	if !ok {
		return "", false
	}
	return n.addr, true
}

// Now returns the current virtual clock reading. It does not mutate
// kernel state: the clock only advances on Accept/Recv.
func (k *Kernel) Now() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clock
}

// Log returns a snapshot of the append-only event log.
func (k *Kernel) Log() []LogEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]LogEntry, len(k.log))
	copy(out, k.log)
	return out
}

// Close wakes every blocked EpollWait caller with ok == false. Further
// EpollWait calls also return immediately with ok == false.
func (k *Kernel) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	k.closed = true
	k.wakeLocked()
}

// wakeLocked broadcasts to every EpollWait caller currently parked on
// wakeCh by closing it and installing a fresh channel, the standard Go
// substitute for a condition variable's Broadcast. Caller must hold k.mu.
func (k *Kernel) wakeLocked() {
	close(k.wakeCh)
	k.wakeCh = make(chan struct{})
}
