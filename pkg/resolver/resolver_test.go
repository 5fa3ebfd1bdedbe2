package resolver

import (
	"testing"

	"github.com/mcastellin/golang-mastery/netsim/pkg/link"
	"github.com/mcastellin/golang-mastery/netsim/pkg/sys"
	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"github.com/mcastellin/golang-mastery/netsim/pkg/wire"
)

type harness struct {
	k *vnk.Kernel
	f *sys.Facade
}

func newHarness() *harness {
	k := vnk.New(nil, 0)
	return &harness{k: k, f: sys.New(k, nil)}
}

// dial establishes a raw connection (bind+connect+accept, all
// synchronous at the vnk layer since tests don't need to wait) and
// returns the dialer's and acceptor's link halves.
func (h *harness) dial(t *testing.T, addr string) (*link.ReadHalf, *link.WriteHalf, *link.ReadHalf, *link.WriteHalf) {
	t.Helper()

	listenFd := h.f.Socket()
	if err := h.f.Bind(listenFd, addr, 10); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	dialFd := h.f.Socket()
	if err := h.f.Connect(dialFd, addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	acceptFd, ok := h.f.Accept(listenFd)
	if !ok {
		t.Fatalf("Accept: expected success")
	}

	dr, dw := link.New(dialFd, h.f, 0)
	ar, aw := link.New(acceptFd, h.f, 0)
	return dr, dw, ar, aw
}

func TestPollEstablishesBothDirections(t *testing.T) {
	h := newHarness()
	dr, dw, ar, aw := h.dial(t, "10.0.0.1:8000")

	dialerResolver := New(0, nil)
	acceptorResolver := New(0, nil)

	selfDialer := wire.Presence{ID: "dialer", Addr: "10.0.0.2:9000"}
	selfAcceptor := wire.Presence{ID: "acceptor", Addr: "10.0.0.1:8000"}

	if err := dialerResolver.Add(Dialing, dr, dw, selfDialer, 0, ""); err != nil {
		t.Fatalf("dialerResolver.Add: %v", err)
	}
	if err := acceptorResolver.Add(Accepted, ar, aw, selfAcceptor, 0, ""); err != nil {
		t.Fatalf("acceptorResolver.Add: %v", err)
	}

	est, ok := acceptorResolver.Poll(0)
	if !ok {
		t.Fatalf("acceptorResolver.Poll: expected Established")
	}
	if est.Remote.ID != "dialer" {
		t.Fatalf("acceptor learned remote ID %q, want %q", est.Remote.ID, "dialer")
	}

	est, ok = dialerResolver.Poll(0)
	if !ok {
		t.Fatalf("dialerResolver.Poll: expected Established")
	}
	if est.Remote.ID != "acceptor" {
		t.Fatalf("dialer learned remote ID %q, want %q", est.Remote.ID, "acceptor")
	}
}

func TestHasSuppressesDuplicateDial(t *testing.T) {
	h := newHarness()
	dr, dw, _, _ := h.dial(t, "10.0.0.1:8000")

	r := New(0, nil)
	self := wire.Presence{ID: "me", Addr: "10.0.0.2:9000"}
	if err := r.Add(Dialing, dr, dw, self, 0, "target-peer"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !r.Has("target-peer") {
		t.Fatalf("Has(target-peer) = false, want true")
	}
	if r.Has("someone-else") {
		t.Fatalf("Has(someone-else) = true, want false")
	}
}

func TestHandshakeTimeoutDropsLinkSilently(t *testing.T) {
	h := newHarness()
	dr, dw, _, _ := h.dial(t, "10.0.0.1:8000")
	_ = dw

	r := New(1000, nil)
	self := wire.Presence{ID: "me", Addr: "10.0.0.2:9000"}
	// Note: dw never actually sends Join from the *peer* side, so dr
	// will never see a Join; only r's own outbound Join (to dw's peer)
	// gets sent by Add. We are testing r's handling of the read side,
	// so what matters is that no Join ever arrives on dr.
	if err := r.Add(Dialing, dr, dw, self, 0, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	if _, ok := r.Poll(500); ok {
		t.Fatalf("Poll before deadline: expected not yet established")
	}
	if r.Len() != 1 {
		t.Fatalf("Poll before deadline must not drop the link early")
	}

	if _, ok := r.Poll(1500); ok {
		t.Fatalf("Poll after deadline: expected no Established, got one")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after timeout = %d, want 0", r.Len())
	}
}

func TestProtocolViolationDropsLink(t *testing.T) {
	h := newHarness()
	dr, dw, ar, aw := h.dial(t, "10.0.0.1:8000")
	_ = dw

	r := New(0, nil)
	self := wire.Presence{ID: "acceptor", Addr: "10.0.0.1:8000"}
	if err := r.Add(Accepted, ar, aw, self, 0, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The peer sends something other than Join first: a protocol
	// violation during the handshake.
	_, dialerWrite := link.New(dr.Fd(), h.f, 0)
	if err := dialerWrite.Buffer(wire.Push{Data: []byte("not a join")}); err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if err := dialerWrite.PollFlush(); err != nil {
		t.Fatalf("PollFlush: %v", err)
	}

	if _, ok := r.Poll(0); ok {
		t.Fatalf("Poll: expected no Established after a protocol violation")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after violation = %d, want 0", r.Len())
	}
}
