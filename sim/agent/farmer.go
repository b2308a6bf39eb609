package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

// FarmerState is what a farmer is doing right now, for observers.
type FarmerState string

const (
	FarmerIdle       FarmerState = "idle"
	FarmerLoading    FarmerState = "loading"
	FarmerTravelling FarmerState = "travelling"
	FarmerStocking   FarmerState = "stocking"
	FarmerReturning  FarmerState = "returning"
	FarmerOnBreak    FarmerState = "on-break"
)

// Farmer repeatedly loads a trailer at the depot, drives it round the fields
// that need the animals, and returns with whatever could not be stocked.
//
// Costs, in ticks:
//   - each leg (depot to field, field to field, back to depot): TravelBaseTicks + animals on board
//   - each animal added to a field: 1, spent holding that field's stocker lock
//   - a break: BreakDuration, taken once BreakInterval ticks passed since the last one
type Farmer struct {
	id     string
	clock  sim.TickSource
	depot  Allocator
	fields map[string]Field
	cfg    sim.FarmerConfig
	rec    trace.Recorder
	log    *logrus.Entry

	trailer    *Trailer
	breakEvery int
	lastBreak  int64

	state    atomic.Value // FarmerState
	carrying atomic.Int64
}

// NewFarmer creates a farmer. rng only draws the break interval, so it may be
// shared with nothing else after this call returns. A nil rec discards records.
func NewFarmer(id string, clock sim.TickSource, depot Allocator, fields map[string]Field,
	cfg sim.FarmerConfig, rng *rand.Rand, rec trace.Recorder) (*Farmer, error) {
	if clock == nil || depot == nil || rng == nil {
		return nil, fmt.Errorf("%w: farmer %s needs a clock, a depot and an rng", sim.ErrInvalidConfig, id)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: farmer %s has no fields to stock", sim.ErrInvalidConfig, id)
	}
	if cfg.BreakIntervalMin <= 0 || cfg.BreakIntervalMax < cfg.BreakIntervalMin {
		return nil, fmt.Errorf("%w: farmer %s break interval [%d, %d]", sim.ErrInvalidConfig, id, cfg.BreakIntervalMin, cfg.BreakIntervalMax)
	}
	trailer, err := NewTrailer(cfg.TrailerCapacity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = trace.Nop{}
	}
	f := &Farmer{
		id:         id,
		clock:      clock,
		depot:      depot,
		fields:     fields,
		cfg:        cfg,
		rec:        rec,
		log:        logrus.WithField("agent", id),
		trailer:    trailer,
		breakEvery: cfg.BreakIntervalMin + rng.Intn(cfg.BreakIntervalMax-cfg.BreakIntervalMin+1),
	}
	f.state.Store(FarmerIdle)
	return f, nil
}

func (f *Farmer) ID() string { return f.id }

// State returns the current activity. Safe to call from any goroutine.
func (f *Farmer) State() FarmerState { return f.state.Load().(FarmerState) }

// Carrying returns the animals on the trailer. Safe to call from any goroutine.
func (f *Farmer) Carrying() int { return int(f.carrying.Load()) }

// BreakInterval returns the ticks between this farmer's breaks.
func (f *Farmer) BreakInterval() int { return f.breakEvery }

// Run works until ctx is cancelled or the clock stops.
// Animals still on the trailer at that point stay there.
func (f *Farmer) Run(ctx context.Context) error {
	f.log.WithField("break_every", f.breakEvery).Debug("starting")
	f.lastBreak = f.clock.Elapsed()
	for {
		if err := f.clock.AwaitNextTick(ctx); err != nil {
			return exit(f.log, err)
		}
		if err := f.trip(ctx); err != nil {
			return exit(f.log, err)
		}
	}
}

// trip is one round from the depot to the fields and back.
func (f *Farmer) trip(ctx context.Context) error {
	if err := f.takeBreakIfDue(ctx); err != nil {
		return err
	}
	if err := f.load(ctx); err != nil {
		return err
	}
	if f.trailer.Load() == 0 {
		return nil
	}
	for _, species := range f.trailer.Species() {
		if err := f.visit(ctx, species); err != nil {
			return err
		}
	}
	f.setState(FarmerReturning)
	if err := f.travel(ctx); err != nil {
		return err
	}
	f.setState(FarmerIdle)
	f.log.WithField("leftover", f.trailer.Load()).Debug("back at the depot")
	return nil
}

// load fills the free trailer space from the depot. An empty trailer waits for
// a delivery; a trailer with leftovers sets off again if the depot is empty.
func (f *Farmer) load(ctx context.Context) error {
	space := f.trailer.Space()
	if space == 0 {
		return nil
	}
	if f.trailer.Load() > 0 && f.depot.Available() == 0 {
		return nil
	}

	f.setState(FarmerLoading)
	granted, err := f.depot.Allocate(ctx, f.id, space)
	if err != nil {
		return err
	}
	if err := f.trailer.Add(granted); err != nil {
		return fmt.Errorf("farmer %s: depot over-allocated: %w", f.id, err)
	}
	f.carrying.Store(int64(f.trailer.Load()))
	f.rec.RecordAllocation(trace.AllocationRecord{
		FarmerID:  f.id,
		Elapsed:   f.clock.Elapsed(),
		Tick:      f.clock.CurrentTick(),
		Requested: space,
		Granted:   granted,
	})
	f.log.WithFields(logrus.Fields{"granted": granted, "load": f.trailer.Load()}).Debug("loaded trailer")
	return nil
}

// visit drives to the species' field and stocks as many animals as fit.
func (f *Farmer) visit(ctx context.Context, species string) error {
	field, ok := f.fields[species]
	if !ok {
		return fmt.Errorf("farmer %s: %w: %q on trailer", f.id, sim.ErrUnknownSpecies, species)
	}
	f.setState(FarmerTravelling)
	if err := f.travel(ctx); err != nil {
		return err
	}

	want := f.trailer.Count(species)
	added, err := f.stock(ctx, field, species, want)
	if added > 0 {
		// The field is released before the record is emitted.
		f.rec.RecordStock(trace.StockRecord{
			FarmerID:  f.id,
			Species:   species,
			Elapsed:   f.clock.Elapsed(),
			Tick:      f.clock.CurrentTick(),
			Requested: want,
			Added:     added,
		})
		f.log.WithFields(logrus.Fields{"species": species, "added": added, "wanted": want}).Debug("stocked field")
	}
	return err
}

// stock holds the field's stocker lock while adding animals and spending one
// tick per animal added. It returns how many animals left the trailer.
func (f *Farmer) stock(ctx context.Context, field Field, species string, want int) (int, error) {
	if err := field.Lock(ctx); err != nil {
		return 0, err
	}
	defer field.Unlock()

	f.setState(FarmerStocking)
	added, err := field.Stock(ctx, want)
	if err != nil {
		return 0, err
	}
	// The animals are in the field now, whatever happens to the rest of the visit.
	if err := f.trailer.Unload(species, added); err != nil {
		return 0, err
	}
	f.carrying.Store(int64(f.trailer.Load()))
	return added, f.clock.AwaitTicks(ctx, added)
}

// travel spends one leg's worth of ticks.
func (f *Farmer) travel(ctx context.Context) error {
	return f.clock.AwaitTicks(ctx, f.cfg.TravelBaseTicks+f.trailer.Load())
}

func (f *Farmer) takeBreakIfDue(ctx context.Context) error {
	if f.cfg.BreakDuration == 0 || f.clock.Elapsed()-f.lastBreak < int64(f.breakEvery) {
		return nil
	}
	f.setState(FarmerOnBreak)
	f.rec.RecordBreak(trace.BreakRecord{
		FarmerID: f.id,
		Elapsed:  f.clock.Elapsed(),
		Tick:     f.clock.CurrentTick(),
		Duration: f.cfg.BreakDuration,
	})
	f.log.WithField("ticks", f.cfg.BreakDuration).Debug("taking a break")
	if err := f.clock.AwaitTicks(ctx, f.cfg.BreakDuration); err != nil {
		return err
	}
	f.lastBreak = f.clock.Elapsed()
	f.setState(FarmerIdle)
	return nil
}

func (f *Farmer) setState(s FarmerState) { f.state.Store(s) }
