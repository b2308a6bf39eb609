// Package observe exposes a running farm over HTTP: Prometheus metrics, a JSON
// snapshot, and a websocket that streams one snapshot per tick.
package observe

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fernandobusta/farm-concurrency/sim/farm"
)

// Source is what the observer reads. *farm.Farm implements it.
type Source interface {
	Snapshot() farm.Snapshot
}

const namespace = "farm"

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	src Source

	fieldStock    *prometheus.Desc
	fieldCapacity *prometheus.Desc
	fieldWaiting  *prometheus.Desc
	depotAnimals  *prometheus.Desc
	clockTick     *prometheus.Desc
	clockElapsed  *prometheus.Desc
	clockDay      *prometheus.Desc
	farmerStates  *prometheus.Desc
	deliveries    *prometheus.Desc
	delivered     *prometheus.Desc
	allocations   *prometheus.Desc
	allocated     *prometheus.Desc
	stocked       *prometheus.Desc
	purchases     *prometheus.Desc
	breaks        *prometheus.Desc
	waitMean      *prometheus.Desc
	waitMax       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src Source) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:           src,
		fieldStock:    desc("field_stock", "Animals currently in the field.", "species"),
		fieldCapacity: desc("field_capacity", "Field capacity.", "species"),
		fieldWaiting:  desc("field_waiting_buyers", "Buyers blocked on an empty field.", "species"),
		depotAnimals:  desc("depot_animals", "Animals waiting in the depot.", "species"),
		clockTick:     desc("clock_tick", "Tick within the current day."),
		clockElapsed:  desc("clock_elapsed_ticks_total", "Ticks since the clock started."),
		clockDay:      desc("clock_day", "Current simulated day."),
		farmerStates:  desc("farmers", "Farmers by state.", "state"),
		deliveries:    desc("deliveries_total", "Deliveries deposited into the depot."),
		delivered:     desc("delivered_animals_total", "Animals delivered to the depot."),
		allocations:   desc("allocations_total", "Depot allocations handed to farmers."),
		allocated:     desc("allocated_animals_total", "Animals loaded onto trailers."),
		stocked:       desc("stocked_animals_total", "Animals placed into fields."),
		purchases:     desc("purchases_total", "Animals bought.", "species"),
		breaks:        desc("farmer_breaks_total", "Farmer breaks taken."),
		waitMean:      desc("buyer_wait_ticks_mean", "Mean ticks a buyer waited in a queue."),
		waitMax:       desc("buyer_wait_ticks_max", "Longest ticks a buyer waited in a queue."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.fieldStock, c.fieldCapacity, c.fieldWaiting, c.depotAnimals,
		c.clockTick, c.clockElapsed, c.clockDay, c.farmerStates,
		c.deliveries, c.delivered, c.allocations, c.allocated, c.stocked,
		c.purchases, c.breaks, c.waitMean, c.waitMax,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	for _, f := range s.Fields {
		gauge(c.fieldStock, float64(f.Level), f.Species)
		gauge(c.fieldCapacity, float64(f.Capacity), f.Species)
		gauge(c.fieldWaiting, float64(f.Waiting), f.Species)
		// Every field species appears in the depot series, even at zero.
		gauge(c.depotAnimals, float64(s.Depot[f.Species]), f.Species)
		counter(c.purchases, float64(s.Metrics.PurchasedBySpecies[f.Species]), f.Species)
	}

	gauge(c.clockTick, float64(s.Tick))
	counter(c.clockElapsed, float64(s.Elapsed))
	gauge(c.clockDay, float64(s.Day))

	states := make(map[string]int)
	for _, fm := range s.Farmers {
		states[fm.State]++
	}
	for state, n := range states {
		gauge(c.farmerStates, float64(n), state)
	}

	m := s.Metrics
	counter(c.deliveries, float64(m.Deliveries))
	counter(c.delivered, float64(m.DeliveredAnimals))
	counter(c.allocations, float64(m.Allocations))
	counter(c.allocated, float64(m.AllocatedAnimals))
	counter(c.stocked, float64(m.StockedAnimals))
	counter(c.breaks, float64(m.Breaks))
	gauge(c.waitMean, m.MeanWaitTicks)
	gauge(c.waitMax, float64(m.MaxWaitTicks))
}
