package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

// Buyer waits a random patience of ticks, picks a random field and buys one
// animal from it, waiting as long as the field stays empty.
type Buyer struct {
	id     string
	clock  sim.TickSource
	fields []Field
	cfg    sim.BuyerConfig
	rng    *rand.Rand
	rec    trace.Recorder
	log    *logrus.Entry

	purchases atomic.Int64
	waitingOn atomic.Pointer[string]
}

// NewBuyer creates a buyer. rng must be used by this buyer only.
func NewBuyer(id string, clock sim.TickSource, fields []Field, cfg sim.BuyerConfig,
	rng *rand.Rand, rec trace.Recorder) (*Buyer, error) {
	if clock == nil || rng == nil {
		return nil, fmt.Errorf("%w: buyer %s needs a clock and an rng", sim.ErrInvalidConfig, id)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: buyer %s has no fields to buy from", sim.ErrInvalidConfig, id)
	}
	if cfg.PatienceMin < 0 || cfg.PatienceMax < cfg.PatienceMin {
		return nil, fmt.Errorf("%w: buyer %s patience [%d, %d]", sim.ErrInvalidConfig, id, cfg.PatienceMin, cfg.PatienceMax)
	}
	if rec == nil {
		rec = trace.Nop{}
	}
	// Species order keeps the random choice a function of the seed alone.
	sorted := append([]Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Species() < sorted[j].Species() })
	return &Buyer{
		id:     id,
		clock:  clock,
		fields: sorted,
		cfg:    cfg,
		rng:    rng,
		rec:    rec,
		log:    logrus.WithField("agent", id),
	}, nil
}

func (b *Buyer) ID() string { return b.id }

// Purchases returns how many animals this buyer bought. Safe from any goroutine.
func (b *Buyer) Purchases() int64 { return b.purchases.Load() }

// WaitingOn returns the species this buyer is queued for, or "" if it is not
// inside a purchase. Safe from any goroutine.
func (b *Buyer) WaitingOn() string {
	if s := b.waitingOn.Load(); s != nil {
		return *s
	}
	return ""
}

// Run buys until ctx is cancelled or the clock stops.
func (b *Buyer) Run(ctx context.Context) error {
	b.log.Debug("starting")
	for {
		patience := b.cfg.PatienceMin + b.rng.Intn(b.cfg.PatienceMax-b.cfg.PatienceMin+1)
		if err := b.clock.AwaitTicks(ctx, patience); err != nil {
			return exit(b.log, err)
		}
		if err := b.buy(ctx); err != nil {
			return exit(b.log, err)
		}
		// A buyer lingers one tick after each purchase.
		if err := b.clock.AwaitNextTick(ctx); err != nil {
			return exit(b.log, err)
		}
	}
}

func (b *Buyer) buy(ctx context.Context) error {
	field := b.fields[b.rng.Intn(len(b.fields))]
	species := field.Species()
	enqueued := b.clock.Elapsed()

	b.waitingOn.Store(&species)
	defer b.waitingOn.Store(nil)

	if err := field.TakeOne(ctx, b.id); err != nil {
		return err
	}
	b.purchases.Add(1)
	now := b.clock.Elapsed()
	b.rec.RecordPurchase(trace.PurchaseRecord{
		BuyerID:    b.id,
		Species:    species,
		Elapsed:    now,
		Tick:       b.clock.CurrentTick(),
		EnqueuedAt: enqueued,
		WaitTicks:  now - enqueued,
	})
	b.log.WithFields(logrus.Fields{"species": species, "waited": now - enqueued}).Debug("bought")
	return nil
}
