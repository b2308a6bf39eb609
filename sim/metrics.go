// Tracks run-wide counters such as deliveries, allocations, purchases and buyer waits.

package sim

import (
	"sync"
	"sync/atomic"

	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

// Metrics aggregates counters about the run for final reporting and for the
// observer endpoint. It is a trace.Recorder, so agents feed it the same
// records they feed the decision trace. Safe for concurrent use.
type Metrics struct {
	Deliveries       atomic.Int64
	DeliveredAnimals atomic.Int64
	Allocations      atomic.Int64
	AllocatedAnimals atomic.Int64
	StockVisits      atomic.Int64
	StockedAnimals   atomic.Int64
	Purchases        atomic.Int64
	WaitTicks        atomic.Int64 // sum of buyer wait ticks
	MaxWaitTicks     atomic.Int64
	Breaks           atomic.Int64

	mu                 sync.Mutex
	purchasedBySpecies map[string]int64
}

var _ trace.Recorder = (*Metrics)(nil)

func NewMetrics() *Metrics {
	return &Metrics{purchasedBySpecies: make(map[string]int64)}
}

func (m *Metrics) RecordDelivery(r trace.DeliveryRecord) {
	m.Deliveries.Add(1)
	for _, n := range r.Animals {
		m.DeliveredAnimals.Add(int64(n))
	}
}

func (m *Metrics) RecordAllocation(r trace.AllocationRecord) {
	m.Allocations.Add(1)
	for _, n := range r.Granted {
		m.AllocatedAnimals.Add(int64(n))
	}
}

func (m *Metrics) RecordStock(r trace.StockRecord) {
	m.StockVisits.Add(1)
	m.StockedAnimals.Add(int64(r.Added))
}

func (m *Metrics) RecordPurchase(r trace.PurchaseRecord) {
	m.Purchases.Add(1)
	m.WaitTicks.Add(r.WaitTicks)
	for {
		cur := m.MaxWaitTicks.Load()
		if r.WaitTicks <= cur || m.MaxWaitTicks.CompareAndSwap(cur, r.WaitTicks) {
			break
		}
	}
	m.mu.Lock()
	m.purchasedBySpecies[r.Species]++
	m.mu.Unlock()
}

func (m *Metrics) RecordBreak(trace.BreakRecord) {
	m.Breaks.Add(1)
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Deliveries         int64            `json:"deliveries"`
	DeliveredAnimals   int64            `json:"delivered_animals"`
	Allocations        int64            `json:"allocations"`
	AllocatedAnimals   int64            `json:"allocated_animals"`
	StockVisits        int64            `json:"stock_visits"`
	StockedAnimals     int64            `json:"stocked_animals"`
	Purchases          int64            `json:"purchases"`
	MeanWaitTicks      float64          `json:"mean_wait_ticks"`
	MaxWaitTicks       int64            `json:"max_wait_ticks"`
	Breaks             int64            `json:"breaks"`
	PurchasedBySpecies map[string]int64 `json:"purchased_by_species"`
}

// Snapshot copies the current counters. Counters are read one by one, so a
// snapshot taken during a run may mix values from neighbouring instants.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Deliveries:       m.Deliveries.Load(),
		DeliveredAnimals: m.DeliveredAnimals.Load(),
		Allocations:      m.Allocations.Load(),
		AllocatedAnimals: m.AllocatedAnimals.Load(),
		StockVisits:      m.StockVisits.Load(),
		StockedAnimals:   m.StockedAnimals.Load(),
		Purchases:        m.Purchases.Load(),
		MaxWaitTicks:     m.MaxWaitTicks.Load(),
		Breaks:           m.Breaks.Load(),
	}
	if s.Purchases > 0 {
		s.MeanWaitTicks = float64(m.WaitTicks.Load()) / float64(s.Purchases)
	}
	m.mu.Lock()
	s.PurchasedBySpecies = make(map[string]int64, len(m.purchasedBySpecies))
	for k, v := range m.purchasedBySpecies {
		s.PurchasedBySpecies[k] = v
	}
	m.mu.Unlock()
	return s
}
