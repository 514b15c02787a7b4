package decay

import (
	"context"
	"iter"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"itemmanager.ai/internal/events"
	"itemmanager.ai/internal/owner"
)

// Live enumerates owners that currently exist in the world.
type Live interface {
	LivePlayers() iter.Seq[owner.Ref]
	LiveVehicles() iter.Seq[owner.Ref]
}

// StorageLister lists persisted containers of a kind that are not flagged no-decay.
type StorageLister interface {
	ListDecaying(ctx context.Context, kind owner.Kind) ([]owner.Ref, error)
}

// Decayer ages one owner's container by one tick.
type Decayer interface {
	Decay(ctx context.Context, ref owner.Ref) error
}

type Options struct {
	// Concurrency caps in-flight owner decays. Zero or less means no cap.
	Concurrency int
}

// Stats summarizes one sweep. It is the payload of the decay.sweep notification.
type Stats struct {
	Players  int           `json:"players"`
	Vehicles int           `json:"vehicles"`
	Storage  int           `json:"storage"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took_ns"`
}

// Scheduler runs decay sweeps over every live container. At most one sweep runs at a time.
// It owns no timer: callers trigger Sweep from the in-game clock or an admin request.
type Scheduler struct {
	live    Live
	storage StorageLister
	decayer Decayer
	bus     *events.Bus
	log     *log.Logger
	opts    Options

	running atomic.Bool
}

func NewScheduler(live Live, storage StorageLister, decayer Decayer, bus *events.Bus, logger *log.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{live: live, storage: storage, decayer: decayer, bus: bus, log: logger, opts: opts}
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// Sweep decays every live player, live vehicle and decaying storage container. It returns
// ran=false without doing anything when another sweep is in flight. Per-owner failures are
// logged and counted, never returned.
func (s *Scheduler) Sweep(ctx context.Context) (Stats, bool) {
	if !s.running.CompareAndSwap(false, true) {
		return Stats{}, false
	}
	defer s.running.Store(false)

	start := time.Now()
	var (
		players, vehicles, storage, failed atomic.Int64
		owners                             errgroup.Group
		passes                             errgroup.Group
	)
	if s.opts.Concurrency > 0 {
		owners.SetLimit(s.opts.Concurrency)
	}
	run := func(ref owner.Ref, n *atomic.Int64) {
		n.Add(1)
		owners.Go(func() error {
			if err := s.decayer.Decay(ctx, ref); err != nil {
				failed.Add(1)
				s.log.Printf("decay %s: %v", ref, err)
			}
			return nil
		})
	}

	passes.Go(func() error {
		for ref := range s.live.LivePlayers() {
			run(ref, &players)
		}
		return nil
	})
	passes.Go(func() error {
		for ref := range s.live.LiveVehicles() {
			run(ref, &vehicles)
		}
		return nil
	})
	passes.Go(func() error {
		refs, err := s.storage.ListDecaying(ctx, owner.KindStorage)
		if err != nil {
			s.log.Printf("decay: list storage: %v", err)
			return nil
		}
		for _, ref := range refs {
			run(ref, &storage)
		}
		return nil
	})
	_ = passes.Wait()
	_ = owners.Wait()

	st := Stats{
		Players:  int(players.Load()),
		Vehicles: int(vehicles.Load()),
		Storage:  int(storage.Load()),
		Failed:   int(failed.Load()),
		Took:     time.Since(start),
	}
	s.log.Printf("decay sweep: players=%d vehicles=%d storage=%d failed=%d took=%s",
		st.Players, st.Vehicles, st.Storage, st.Failed, st.Took)
	if s.bus != nil {
		s.bus.Emit(events.KindDecaySweep, "", st)
	}
	return st, true
}
