// Package sim wires N gossip.Engine instances to one shared virtual
// network kernel: peer 0 has no contact, peers 1..N-1 contact a
// uniformly random prior peer, as spec.md's simulate CLI describes.
package sim

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/mcastellin/golang-mastery/netsim/pkg/eventlog"
	"github.com/mcastellin/golang-mastery/netsim/pkg/gossip"
	"github.com/mcastellin/golang-mastery/netsim/pkg/vnk"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config selects the size and tunables of a simulation run.
type Config struct {
	Nodes               int
	Seed                int64
	PerLinkLatencyNs    int64
	MaxFrameBytes       int
	HandshakeDeadlineNs int64
	EventLogPath        string // "" disables the event log

	// RandomIDs assigns each peer a uuid.NewString() identity instead
	// of the default readable "peer-%02d" label. Intended for property
	// tests that need collision-free labels without a shared counter.
	RandomIDs bool
}

// AddrFor returns the deterministic IPv4 bind address of peer index i.
func AddrFor(i int) string {
	return fmt.Sprintf("10.0.0.%d:9000", i+1)
}

// Simulation owns the shared kernel and every peer engine built on it.
type Simulation struct {
	Kernel  *vnk.Kernel
	Engines []*gossip.Engine

	logWriter *eventlog.Writer
}

// New builds Config.Nodes engines on a fresh kernel, deterministically
// wired by Config.Seed: peer 0 has no contact, every other peer dials a
// uniformly random peer among those constructed before it.
func New(cfg Config, logger *zap.Logger) (*Simulation, error) {
	if cfg.Nodes <= 0 {
		return nil, fmt.Errorf("sim: Nodes must be positive, got %d", cfg.Nodes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	kernel := vnk.New(logger, cfg.PerLinkLatencyNs)
	rng := rand.New(rand.NewSource(cfg.Seed))

	s := &Simulation{Kernel: kernel}

	if cfg.EventLogPath != "" {
		w, err := eventlog.Create(cfg.EventLogPath)
		if err != nil {
			return nil, err
		}
		s.logWriter = w
	}

	for i := 0; i < cfg.Nodes; i++ {
		id := fmt.Sprintf("peer-%02d", i)
		if cfg.RandomIDs {
			id = uuid.NewString()
		}

		econfig := gossip.Config{
			ListenAddr:          AddrFor(i),
			SelfID:              id,
			PerLinkLatencyNs:    cfg.PerLinkLatencyNs,
			MaxFrameBytes:       cfg.MaxFrameBytes,
			HandshakeDeadlineNs: cfg.HandshakeDeadlineNs,
		}
		if i > 0 {
			econfig.ContactAddr = AddrFor(rng.Intn(i))
		}

		e, err := gossip.New(kernel, econfig, logger)
		if err != nil {
			return nil, fmt.Errorf("sim: peer %d: %w", i, err)
		}
		s.Engines = append(s.Engines, e)
	}

	return s, nil
}

// Serve starts every engine's scheduling loop.
func (s *Simulation) Serve(ctx context.Context) {
	for _, e := range s.Engines {
		e.Serve(ctx)
	}
}

// Shutdown stops every engine, aggregating any errors, then flushes the
// event log (if configured) and closes it.
func (s *Simulation) Shutdown() error {
	var err error
	for _, e := range s.Engines {
		err = multierr.Append(err, e.Shutdown())
	}

	if s.logWriter != nil {
		err = multierr.Append(err, s.logWriter.WriteAll(s.Kernel.Log()))
		err = multierr.Append(err, s.logWriter.Close())
	}
	return err
}
