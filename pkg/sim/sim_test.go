package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcastellin/golang-mastery/netsim/pkg/eventlog"
)

func TestAddrForIsDeterministic(t *testing.T) {
	if AddrFor(0) != AddrFor(0) {
		t.Fatalf("AddrFor is not a pure function")
	}
	if AddrFor(0) == AddrFor(1) {
		t.Fatalf("AddrFor(0) and AddrFor(1) collide: %s", AddrFor(0))
	}
}

// waitFor polls cond every few milliseconds until it is true or the
// deadline elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestSimulationConverges(t *testing.T) {
	s, err := New(Config{Nodes: 3, Seed: 7}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Serve(ctx)

	converged := waitFor(t, 2*time.Second, func() bool {
		for _, e := range s.Engines {
			if e.Book().Len() != len(s.Engines)-1 {
				return false
			}
		}
		return true
	})
	if !converged {
		for _, e := range s.Engines {
			t.Logf("peer %s book size = %d", e.ID(), e.Book().Len())
		}
		t.Fatalf("simulation did not converge")
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestEventLogWrittenOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	s, err := New(Config{Nodes: 2, Seed: 1, EventLogPath: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Serve(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return s.Engines[0].Book().Len() == 1 && s.Engines[1].Book().Len() == 1
	})

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("event log not written: %v", err)
	}
	entries, err := eventlog.ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("event log is empty")
	}
}
