package gossip

import (
	"sync"

	"github.com/mcastellin/golang-mastery/netsim/pkg/link"
	"github.com/mcastellin/golang-mastery/netsim/pkg/wire"
)

// FanOut is the ordered table of write-halves used for broadcast. It is
// append-only for the life of the engine: a shut-down slot is nilled
// out in place rather than removed, so every PeerPresence.WriteSlot
// index handed out earlier stays valid.
type FanOut struct {
	mu      sync.Mutex
	writers []*link.WriteHalf
}

func newFanOut() *FanOut {
	return &FanOut{}
}

// Append adds w to the table and returns its index.
func (f *FanOut) Append(w *link.WriteHalf) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writers = append(f.writers, w)
	return len(f.writers) - 1
}

// Get returns the write-half at idx, or nil if that slot was shut down.
func (f *FanOut) Get(idx int) *link.WriteHalf {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < 0 || idx >= len(f.writers) {
		return nil
	}
	return f.writers[idx]
}

// Shutdown closes the write-half at idx and nils out its slot.
func (f *FanOut) Shutdown(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < 0 || idx >= len(f.writers) {
		return
	}
	if w := f.writers[idx]; w != nil {
		w.Shutdown()
	}
	f.writers[idx] = nil
}

// Broadcast buffers and flushes a Push packet on every live write-half.
// There is no ack, no retry, no per-message dedup: a single broadcaster
// reaching only its direct neighbors is the documented behavior, not a
// bug (see the engine's package doc).
func (f *FanOut) Broadcast(payload []byte) error {
	f.mu.Lock()
	writers := make([]*link.WriteHalf, len(f.writers))
	copy(writers, f.writers)
	f.mu.Unlock()

	for _, w := range writers {
		if w == nil {
			continue
		}
		if err := w.Buffer(wire.Push{Data: payload}); err != nil {
			continue
		}
		_ = w.PollFlush()
	}
	return nil
}
