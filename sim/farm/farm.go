// Package farm assembles a complete run: clock, fields, depot, and the farmer,
// buyer and delivery agents, plus any extra services such as an observer.
package farm

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/agent"
	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

// Service is extra work that lives as long as the run, e.g. an HTTP observer.
// Run must return once ctx is done; a non-nil error ends the whole run.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

type options struct {
	recorders []trace.Recorder
	services  []Service
}

// Option customizes New.
type Option func(*options)

// WithRecorder adds a recorder that receives every agent record.
func WithRecorder(r trace.Recorder) Option {
	return func(o *options) { o.recorders = append(o.recorders, r) }
}

// WithService runs fn alongside the agents.
func WithService(name string, fn func(ctx context.Context) error) Option {
	return func(o *options) { o.services = append(o.services, Service{Name: name, Run: fn}) }
}

// Farm is one configured run. Create it with New and call Run once.
type Farm struct {
	cfg      sim.FarmConfig
	clock    *sim.Clock
	species  []string
	fields   map[string]*sim.HoldingArea
	depot    *sim.Depot
	metrics  *sim.Metrics
	farmers  []*agent.Farmer
	buyers   []*agent.Buyer
	producer *agent.DeliveryProducer
	services []Service

	hasRun atomic.Bool
}

// New validates cfg and builds every component. Nothing runs until Run.
func New(cfg sim.FarmConfig, opts ...Option) (*Farm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clock, err := sim.NewClock(cfg.Clock)
	if err != nil {
		return nil, err
	}
	rng := sim.NewStreams(cfg.Seed)

	f := &Farm{
		cfg:      cfg,
		clock:    clock,
		species:  append([]string(nil), cfg.Fields.Species...),
		fields:   make(map[string]*sim.HoldingArea, len(cfg.Fields.Species)),
		metrics:  sim.NewMetrics(),
		services: o.services,
	}
	sort.Strings(f.species)

	signals := make(map[string]sim.DemandSignal, len(f.species))
	asFields := make(map[string]agent.Field, len(f.species))
	fieldList := make([]agent.Field, 0, len(f.species))
	for _, s := range f.species {
		h, err := sim.NewHoldingArea(s, cfg.Fields.Capacity, cfg.Fields.InitialStock)
		if err != nil {
			return nil, err
		}
		f.fields[s] = h
		signals[s] = h
		asFields[s] = h
		fieldList = append(fieldList, h)
	}

	policy, err := sim.NewAllocationPolicy(cfg.Farmers.AllocationStrategy, rng.Stream(sim.StreamAllocation))
	if err != nil {
		return nil, err
	}
	if f.depot, err = sim.NewDepot(signals, policy); err != nil {
		return nil, err
	}

	rec := trace.Tee(append([]trace.Recorder{f.metrics}, o.recorders...)...)

	deliveryRNG := rng.Stream(sim.StreamDelivery)
	trigger, err := agent.NewDeliveryTrigger(cfg.Delivery, cfg.Clock.DayLength, deliveryRNG)
	if err != nil {
		return nil, err
	}
	f.producer, err = agent.NewDeliveryProducer(clock, f.depot, f.species, cfg.Delivery, trigger, deliveryRNG, rec)
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Farmers.Count; i++ {
		fm, err := agent.NewFarmer(fmt.Sprintf("farmer-%d", i), clock, f.depot, asFields,
			cfg.Farmers, rng.Stream(sim.FarmerStream(i)), rec)
		if err != nil {
			return nil, err
		}
		f.farmers = append(f.farmers, fm)
	}
	for i := 1; i <= cfg.Buyers.Count; i++ {
		b, err := agent.NewBuyer(fmt.Sprintf("buyer-%d", i), clock, fieldList,
			cfg.Buyers, rng.Stream(sim.BuyerStream(i)), rec)
		if err != nil {
			return nil, err
		}
		f.buyers = append(f.buyers, b)
	}
	return f, nil
}

// Clock returns the farm's clock. It starts with Run.
func (f *Farm) Clock() *sim.Clock { return f.clock }

// Species returns the field species in name order.
func (f *Farm) Species() []string { return append([]string(nil), f.species...) }

// Run starts the clock and every agent, and blocks until the configured
// Duration elapses, ctx is cancelled, or an agent or service fails.
// The clock is shut down before Run returns, so no agent outlives it.
// Cancellation and timeouts are a normal end and yield a nil error.
// Panics if called more than once.
func (f *Farm) Run(ctx context.Context) (Summary, error) {
	if !f.hasRun.CompareAndSwap(false, true) {
		panic("farm: Run called more than once")
	}

	runCtx := ctx
	if f.cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.cfg.Duration)
		defer cancel()
	}
	g, gctx := errgroup.WithContext(runCtx)

	logrus.Infof("farm starting: %d fields, %d farmers, %d buyers, tick %s, duration %s",
		len(f.species), len(f.farmers), len(f.buyers), f.cfg.Clock.TickDuration, f.cfg.Duration)
	started := time.Now()
	f.clock.Start()

	g.Go(func() error { return f.producer.Run(gctx) })
	for _, fm := range f.farmers {
		g.Go(func() error { return fm.Run(gctx) })
	}
	for _, b := range f.buyers {
		g.Go(func() error { return b.Run(gctx) })
	}
	for _, svc := range f.services {
		g.Go(func() error {
			if err := svc.Run(gctx); err != nil {
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	f.clock.Shutdown()

	summary := f.Summary()
	logrus.Infof("farm stopped after %d ticks (%s)", summary.Elapsed, time.Since(started).Round(time.Millisecond))
	if err != nil {
		return summary, fmt.Errorf("farm run: %w", err)
	}
	return summary, nil
}
