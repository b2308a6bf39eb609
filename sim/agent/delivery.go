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

// NewDelivery splits size animals over species in random order. Each species
// gets 1..maxPerSpecies until the animals run out; the last species drawn
// takes whatever remains, which may exceed maxPerSpecies.
func NewDelivery(rng *rand.Rand, species []string, size, maxPerSpecies int) map[string]int {
	order := append([]string(nil), species...)
	sort.Strings(order)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	delivery := make(map[string]int, len(order))
	left := size
	for i, s := range order {
		if left == 0 {
			break
		}
		n := left
		if i < len(order)-1 {
			n = 1 + rng.Intn(min(left, maxPerSpecies))
		}
		delivery[s] = n
		left -= n
	}
	return delivery
}

// DeliveryProducer deposits a new delivery into the depot on every tick its
// trigger says is due.
type DeliveryProducer struct {
	clock   sim.TickSource
	depot   Depositor
	trigger DeliveryTrigger
	species []string
	cfg     sim.DeliveryConfig
	rng     *rand.Rand
	rec     trace.Recorder
	log     *logrus.Entry

	deliveries atomic.Int64
}

// NewDeliveryProducer creates the producer. rng and trigger must not be used
// by any other goroutine.
func NewDeliveryProducer(clock sim.TickSource, depot Depositor, species []string, cfg sim.DeliveryConfig,
	trigger DeliveryTrigger, rng *rand.Rand, rec trace.Recorder) (*DeliveryProducer, error) {
	if clock == nil || depot == nil || trigger == nil || rng == nil {
		return nil, fmt.Errorf("%w: delivery producer needs a clock, a depot, a trigger and an rng", sim.ErrInvalidConfig)
	}
	if len(species) == 0 {
		return nil, fmt.Errorf("%w: delivery producer has no species", sim.ErrInvalidConfig)
	}
	if cfg.Size <= 0 || cfg.MaxPerSpecies <= 0 {
		return nil, fmt.Errorf("%w: delivery size %d per species %d", sim.ErrInvalidConfig, cfg.Size, cfg.MaxPerSpecies)
	}
	if rec == nil {
		rec = trace.Nop{}
	}
	return &DeliveryProducer{
		clock:   clock,
		depot:   depot,
		trigger: trigger,
		species: append([]string(nil), species...),
		cfg:     cfg,
		rng:     rng,
		rec:     rec,
		log:     logrus.WithField("agent", "delivery"),
	}, nil
}

// Deliveries returns how many deliveries were deposited. Safe from any goroutine.
func (p *DeliveryProducer) Deliveries() int64 { return p.deliveries.Load() }

// Run produces deliveries until ctx is cancelled or the clock stops.
func (p *DeliveryProducer) Run(ctx context.Context) error {
	p.log.Debug("starting")
	for {
		if err := p.clock.AwaitNextTick(ctx); err != nil {
			return exit(p.log, err)
		}
		now := p.clock.Elapsed()
		if !p.trigger.Due(now) {
			continue
		}
		delivery := NewDelivery(p.rng, p.species, p.cfg.Size, p.cfg.MaxPerSpecies)
		if err := p.depot.Deposit(delivery); err != nil {
			return exit(p.log, fmt.Errorf("deposit delivery: %w", err))
		}
		p.trigger.Delivered(now)
		p.deliveries.Add(1)
		p.rec.RecordDelivery(trace.DeliveryRecord{
			Elapsed: now,
			Tick:    p.clock.CurrentTick(),
			Animals: delivery,
		})
		p.log.WithFields(logrus.Fields{"tick": now, "animals": delivery}).Info("new delivery")
	}
}
