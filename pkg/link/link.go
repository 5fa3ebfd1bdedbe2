// Package link implements one bidirectional peer connection: a framed
// read-side stream and a buffered write-side sink built on top of the
// Syscall Interposer.
package link

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/mcastellin/golang-mastery/netsim/pkg/sys"
	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"github.com/mcastellin/golang-mastery/netsim/pkg/wire"
)

// ErrLinkClosed is returned by WriteHalf.Buffer/PollFlush after Shutdown.
var ErrLinkClosed = errors.New("link: write half is shut down")

// New wraps fd in a ReadHalf/WriteHalf pair. maxFrameBytes <= 0 selects
// wire.DefaultMaxFrameBytes.
func New(fd vnk.Fd, facade *sys.Facade, maxFrameBytes int) (*ReadHalf, *WriteHalf) {
	return &ReadHalf{fd: fd, facade: facade, maxFrameBytes: maxFrameBytes},
		&WriteHalf{fd: fd, facade: facade}
}

// ReadHalf produces a lazy, finite sequence of decoded packets,
// terminating on EOF (would-block forever, in this non-blocking model:
// callers simply stop polling) or a codec error.
type ReadHalf struct {
	fd            vnk.Fd
	facade        *sys.Facade
	maxFrameBytes int

	raw []byte
}

// Fd returns the underlying virtual file descriptor.
func (r *ReadHalf) Fd() vnk.Fd { return r.fd }

// Poll performs one non-blocking attempt to produce the next decoded
// packet. ok is false when no complete frame is available yet; err is
// non-nil only on a codec error (ErrBadFrame), which is terminal for
// the link.
func (r *ReadHalf) Poll() (wire.Packet, bool, error) {
	if pkt, ok, err := r.tryDecodeOne(); ok || err != nil {
		return pkt, ok, err
	}

	data, ok := r.facade.ReadV(r.fd)
	if !ok {
		return nil, false, nil
	}
	r.raw = append(r.raw, data...)
	return r.tryDecodeOne()
}

func (r *ReadHalf) maxFrame() int {
	if r.maxFrameBytes <= 0 {
		return wire.DefaultMaxFrameBytes
	}
	return r.maxFrameBytes
}

func (r *ReadHalf) tryDecodeOne() (wire.Packet, bool, error) {
	const prefixLen = 4
	if len(r.raw) < prefixLen {
		return nil, false, nil
	}

	n := binary.BigEndian.Uint32(r.raw[:prefixLen])
	max := r.maxFrame()
	if int(n) > max {
		return nil, false, fmt.Errorf("%w: frame length %d exceeds cap %d", wire.ErrBadFrame, n, max)
	}

	total := prefixLen + int(n)
	if len(r.raw) < total {
		return nil, false, nil
	}

	pkt, err := wire.Decode(bytes.NewReader(r.raw[:total]), max)
	r.raw = r.raw[total:]
	if err != nil {
		return nil, false, err
	}
	return pkt, true, nil
}

// WriteHalf buffers encoded packets in memory and pushes them to the
// underlying socket on PollFlush. Synthetic back-pressure is not
// modelled: writes always accept (see the spec's concurrency model).
type WriteHalf struct {
	fd     vnk.Fd
	facade *sys.Facade

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// Fd returns the underlying virtual file descriptor.
func (w *WriteHalf) Fd() vnk.Fd { return w.fd }

// Buffer appends the encoded form of p to the write queue.
func (w *WriteHalf) Buffer(p wire.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLinkClosed
	}
	buf, err := wire.Encode(w.buf, p)
	if err != nil {
		return err
	}
	w.buf = buf
	return nil
}

// PollFlush pushes any buffered bytes to the socket until it reports
// not-ready. In this simulation sends never block, so a single Send
// call always drains the whole buffer.
func (w *WriteHalf) PollFlush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLinkClosed
	}
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.facade.Send(w.fd, w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Shutdown closes the write half. Subsequent Buffer/PollFlush calls
// return ErrLinkClosed.
func (w *WriteHalf) Shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.buf = nil
	return nil
}
