package sys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
)

func TestBindRejectsNonIPv4(t *testing.T) {
	f := New(vnk.New(nil, 0), nil)
	fd := f.Socket()

	if err := f.Bind(fd, "[::1]:8000", 0); !errors.Is(err, vnk.ErrAddressFamilyUnsupported) {
		t.Fatalf("Bind(ipv6) = %v, want ErrAddressFamilyUnsupported", err)
	}
}

func TestConnectRejectsGarbageAddr(t *testing.T) {
	f := New(vnk.New(nil, 0), nil)
	fd := f.Socket()

	if err := f.Connect(fd, "not-an-address"); !errors.Is(err, vnk.ErrAddressFamilyUnsupported) {
		t.Fatalf("Connect(garbage) = %v, want ErrAddressFamilyUnsupported", err)
	}
}

func TestGetSockNameReportsBoundAddr(t *testing.T) {
	f := New(vnk.New(nil, 0), nil)
	fd := f.Socket()
	if err := f.Bind(fd, "10.0.0.9:8000", 0); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	addr, ok := f.GetSockName(fd)
	if !ok || addr != "10.0.0.9:8000" {
		t.Fatalf("GetSockName = (%q, %v), want (10.0.0.9:8000, true)", addr, ok)
	}

	if _, ok := f.GetSockName(f.Socket()); ok {
		t.Fatalf("GetSockName on an unbound fd: expected ok=false")
	}
}

func TestGetPeerNameIsAlwaysThePlaceholder(t *testing.T) {
	f := New(vnk.New(nil, 0), nil)
	if got := f.GetPeerName(f.Socket()); got != PlaceholderPeerAddr {
		t.Fatalf("GetPeerName = %q, want %q", got, PlaceholderPeerAddr)
	}
}

func TestEpollWaitWakesOnRegisteredReadiness(t *testing.T) {
	f := New(vnk.New(nil, 0), nil)

	listenFd := f.Socket()
	if err := f.Bind(listenFd, "10.0.0.1:8000", 0); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	f.EpollCtlAdd(listenFd, Readable, uint64(listenFd))

	done := make(chan struct{})
	var gotToken uint64
	var gotMask uint32
	var gotOK bool
	go func() {
		defer close(done)
		gotToken, gotMask, gotOK = f.EpollWait(context.Background())
	}()

	dialFd := f.Socket()
	if err := f.Connect(dialFd, "10.0.0.1:8000"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("EpollWait did not wake up after Connect")
	}

	if !gotOK || gotToken != uint64(listenFd) || gotMask&Readable == 0 {
		t.Fatalf("EpollWait = (token=%d, mask=%d, ok=%v), want (token=%d, Readable, true)", gotToken, gotMask, gotOK, listenFd)
	}
}

func TestEpollWaitUnblocksOnContextCancel(t *testing.T) {
	f := New(vnk.New(nil, 0), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var gotOK bool
	go func() {
		defer close(done)
		_, _, gotOK = f.EpollWait(ctx)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("EpollWait did not unblock on context cancellation")
	}
	if gotOK {
		t.Fatalf("EpollWait after cancel: ok = true, want false")
	}
}
