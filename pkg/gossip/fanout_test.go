package gossip

import (
	"testing"

	"github.com/mcastellin/golang-mastery/netsim/pkg/link"
	"github.com/mcastellin/golang-mastery/netsim/pkg/sys"
	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"github.com/mcastellin/golang-mastery/netsim/pkg/wire"
)

func writeHalfPair(t *testing.T) *link.WriteHalf {
	t.Helper()
	k := vnk.New(nil, 0)
	f := sys.New(k, nil)

	listenFd := f.Socket()
	if err := f.Bind(listenFd, "10.0.0.1:8000", 10); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	dialFd := f.Socket()
	if err := f.Connect(dialFd, "10.0.0.1:8000"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, ok := f.Accept(listenFd); !ok {
		t.Fatalf("Accept: expected success")
	}
	_, w := link.New(dialFd, f, 0)
	return w
}

func TestFanOutIndexSurvivesSiblingShutdown(t *testing.T) {
	fo := newFanOut()

	a := writeHalfPair(t)
	b := writeHalfPair(t)
	c := writeHalfPair(t)

	idxA := fo.Append(a)
	idxB := fo.Append(b)
	idxC := fo.Append(c)

	fo.Shutdown(idxB)

	if fo.Get(idxB) != nil {
		t.Fatalf("Get(idxB) after Shutdown: expected nil")
	}
	// idxA and idxC must still resolve to their original write-halves;
	// a shut-down slot is nilled in place, never removed, so it cannot
	// shift any other PeerPresence.WriteSlot out from under it.
	if fo.Get(idxA) != a {
		t.Fatalf("Get(idxA) after sibling shutdown: index shifted")
	}
	if fo.Get(idxC) != c {
		t.Fatalf("Get(idxC) after sibling shutdown: index shifted")
	}
}

func TestFanOutGetOutOfRangeIsNil(t *testing.T) {
	fo := newFanOut()
	if fo.Get(0) != nil {
		t.Fatalf("Get on empty table: expected nil")
	}
	if fo.Get(-1) != nil {
		t.Fatalf("Get(-1): expected nil")
	}
}

func TestFanOutBroadcastSkipsShutdownSlots(t *testing.T) {
	fo := newFanOut()
	k := vnk.New(nil, 0)
	f := sys.New(k, nil)

	listenFd := f.Socket()
	if err := f.Bind(listenFd, "10.0.0.1:8000", 10); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	dialLive := f.Socket()
	if err := f.Connect(dialLive, "10.0.0.1:8000"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	liveRemote, ok := f.Accept(listenFd)
	if !ok {
		t.Fatalf("Accept: expected success")
	}
	_, liveWrite := link.New(dialLive, f, 0)
	liveRead, _ := link.New(liveRemote, f, 0)

	dead := writeHalfPair(t)

	liveIdx := fo.Append(liveWrite)
	deadIdx := fo.Append(dead)
	fo.Shutdown(deadIdx)

	if err := fo.Broadcast([]byte("hi")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	pkt, readOK, err := liveRead.Poll()
	if err != nil || !readOK {
		t.Fatalf("Poll: ok=%v err=%v, want a delivered Push", readOK, err)
	}
	push, isPush := pkt.(wire.Push)
	if !isPush || string(push.Data) != "hi" {
		t.Fatalf("Poll = %#v, want Push{hi}", pkt)
	}

	if fo.Get(liveIdx) != liveWrite {
		t.Fatalf("Get(liveIdx): index disturbed by broadcasting over a shut-down sibling")
	}
}
