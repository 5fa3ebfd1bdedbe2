// Package sys is the Syscall Interposer: a thin adapter whose exported
// functions stand in for the POSIX calls (bind/connect/accept/send/readv
// /epoll_*) that gossip-protocol code would otherwise issue against the
// real kernel. Every method here does nothing but validate its arguments
// and translate into a Virtual Network Kernel operation.
//
// Go has no in-process equivalent of an LD_PRELOAD libc hook, so rather
// than patch process memory, the Gossip Engine simply calls this package
// instead of net/golang.org/x/sys/unix. The call shapes below mirror the
// POSIX calls closely enough that swapping one for the other would be a
// mechanical, not a semantic, change.
package sys

import (
	"context"
	"fmt"
	"net"

	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"go.uber.org/zap"
)

// PlaceholderPeerAddr is returned by GetPeerName: per the spec, peers do
// not rely on its value, so the interposer never bothers resolving the
// real remote address of a virtual connection.
const PlaceholderPeerAddr = "127.0.0.1:8000"

// Facade translates intercepted calls into vnk.Kernel operations.
type Facade struct {
	kernel *vnk.Kernel
	logger *zap.Logger
}

// New wraps kernel behind the syscall-shaped surface the gossip engine
// calls.
func New(kernel *vnk.Kernel, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{kernel: kernel, logger: logger}
}

func requireIPv4(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", vnk.ErrAddressFamilyUnsupported, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: %q is not an IPv4 address", vnk.ErrAddressFamilyUnsupported, host)
	}
	return nil
}

// Socket allocates a fresh virtual fd, standing in for a real socket(2)
// call. Real interposers let socket() pass through to the kernel purely
// to obtain a uniquely-valued fd; here the VNK itself is the only fd
// authority, so allocation is direct.
func (f *Facade) Socket() vnk.Fd {
	return f.kernel.AllocFd()
}

// Bind records fd as a listening socket at addr. Only AF_INET addresses
// are supported; anything else fails with ErrAddressFamilyUnsupported.
func (f *Facade) Bind(fd vnk.Fd, addr string, latencyNs int64) error {
	if err := requireIPv4(addr); err != nil {
		return err
	}
	return f.kernel.AddNode(fd, addr, latencyNs)
}

// Connect starts a non-blocking dial of addr from fd. The connection
// completes asynchronously; the caller learns of success via Accept on
// the far side and readiness via EpollWait/epoll_ctl on this fd.
func (f *Facade) Connect(fd vnk.Fd, addr string) error {
	if err := requireIPv4(addr); err != nil {
		return err
	}
	return f.kernel.ConnectTo(fd, addr)
}

// Accept is the non-blocking accept4(2) equivalent: it returns ok ==
// false (EAGAIN/EWOULDBLOCK in POSIX terms) when no connection is
// pending.
func (f *Facade) Accept(listenFd vnk.Fd) (vnk.Fd, bool) {
	return f.kernel.Accept(listenFd)
}

// Send is the non-blocking send(2) equivalent. Back-pressure is not
// modelled: writes always accept, per the spec's concurrency model.
func (f *Facade) Send(fd vnk.Fd, data []byte) error {
	return f.kernel.Send(fd, data)
}

// ReadV is the readv(2) equivalent restricted to a single iovec: it
// returns ok == false on would-block rather than blocking the caller.
func (f *Facade) ReadV(fd vnk.Fd) ([]byte, bool) {
	return f.kernel.Recv(fd)
}

// GetSockName is the getsockname(2) equivalent.
func (f *Facade) GetSockName(fd vnk.Fd) (string, bool) {
	return f.kernel.GetSockName(fd)
}

// GetPeerName is the getpeername(2) equivalent. It always returns a
// placeholder address: the spec notes peers never rely on its value.
func (f *Facade) GetPeerName(vnk.Fd) string {
	return PlaceholderPeerAddr
}

// EpollCtlAdd registers interest in fd's readiness under token. There is
// no EPOLL_CTL_DEL/MOD in the required syscall set, and no close: a
// registration stays in place for the life of the kernel, including
// after its link is shut down.
func (f *Facade) EpollCtlAdd(fd vnk.Fd, mask uint32, token uint64) {
	f.kernel.EpollRegister(fd, mask, token)
}

// EpollWait is the epoll_wait(2) equivalent. It blocks until a
// registered fd becomes ready or ctx is done.
func (f *Facade) EpollWait(ctx context.Context) (token uint64, mask uint32, ok bool) {
	return f.kernel.EpollWait(ctx)
}

// Readable and Writable mirror vnk's readiness bits so callers outside
// pkg/vnk don't need to import it just to test a mask.
const (
	Readable = vnk.Readable
	Writable = vnk.Writable
)
