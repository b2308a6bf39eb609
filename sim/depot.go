package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// DemandSignal is what the depot reads from a field to rank species.
// *HoldingArea implements it.
type DemandSignal interface {
	Level() int
	WaitingConsumers() int
}

// Depot (the enclosure) holds delivered animals until farmers pick them up.
// One lock guards the whole pool; farmers wait on notEmpty while it is empty.
type Depot struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	pool      map[string]int
	total     int
	deposited int64
	allocated int64

	fields map[string]DemandSignal
	policy AllocationPolicy
}

// NewDepot creates an empty depot for the given fields.
// Only species with a field can be deposited. A nil policy means PriorityAllocation.
func NewDepot(fields map[string]DemandSignal, policy AllocationPolicy) (*Depot, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: depot needs at least one field", ErrInvalidConfig)
	}
	if policy == nil {
		policy = DefaultPriorityAllocation()
	}
	d := &Depot{
		pool:   make(map[string]int, len(fields)),
		fields: make(map[string]DemandSignal, len(fields)),
		policy: policy,
	}
	for species, f := range fields {
		if f == nil {
			return nil, fmt.Errorf("%w: field %q is nil", ErrInvalidConfig, species)
		}
		d.fields[species] = f
	}
	d.notEmpty = sync.NewCond(&d.mu)
	return d, nil
}

// Deposit adds a delivery to the pool and wakes every waiting farmer.
// The whole delivery is rejected, with nothing added, if any entry names an
// unknown species or a negative count. It never blocks on the pool state.
func (d *Depot) Deposit(delivery map[string]int) error {
	for species, n := range delivery {
		if _, ok := d.fields[species]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSpecies, species)
		}
		if n < 0 {
			return fmt.Errorf("%w: %d %s", ErrInvalidAmount, n, species)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	added := 0
	for species, n := range delivery {
		d.pool[species] += n
		added += n
	}
	d.total += added
	d.deposited += int64(added)
	if added > 0 {
		d.notEmpty.Broadcast()
	}
	logrus.Debugf("depot received %d animals, pool now %v", added, d.pool)
	return nil
}

// Allocate hands a farmer up to capacity animals. It blocks while the pool is
// empty, then lets the AllocationPolicy choose and removes the chosen animals
// from the pool before returning. The result is never empty on success.
func (d *Depot) Allocate(ctx context.Context, requesterID string, capacity int) (map[string]int, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: trailer capacity must be > 0, got %d", ErrInvalidAmount, capacity)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := waitFor(ctx, d.notEmpty, func() bool { return d.total > 0 }); err != nil {
		return nil, err
	}

	signals := d.signalsLocked()
	taken := d.policy.Allocate(signals, capacity)

	granted := 0
	for species, n := range taken {
		if n <= 0 {
			delete(taken, species)
			continue
		}
		have := d.pool[species]
		if n > have {
			// A policy bug must not drive the pool negative.
			panic(fmt.Sprintf("sim: allocation policy took %d %s from a pool of %d", n, species, have))
		}
		d.pool[species] = have - n
		granted += n
	}
	if granted > capacity {
		panic(fmt.Sprintf("sim: allocation policy granted %d over capacity %d", granted, capacity))
	}
	d.total -= granted
	d.allocated += int64(granted)

	logrus.Debugf("%s allocated %v (capacity %d, pool left %d)", requesterID, taken, capacity, d.total)
	return taken, nil
}

// signalsLocked builds the demand signals for every species with animals in the pool.
// Fields are read lock-free, so the depot never holds a field lock.
func (d *Depot) signalsLocked() []SpeciesSignal {
	signals := make([]SpeciesSignal, 0, len(d.pool))
	for species, n := range d.pool {
		if n <= 0 {
			continue
		}
		f := d.fields[species]
		signals = append(signals, SpeciesSignal{
			Species:          species,
			Pool:             n,
			Level:            f.Level(),
			WaitingConsumers: f.WaitingConsumers(),
		})
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Species < signals[j].Species })
	return signals
}

// Snapshot returns a copy of the pool.
func (d *Depot) Snapshot() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.pool))
	for species, n := range d.pool {
		out[species] = n
	}
	return out
}

// Available returns the number of animals waiting in the pool.
func (d *Depot) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Totals returns how many animals have ever been deposited and allocated.
// deposited - allocated always equals Available().
func (d *Depot) Totals() (deposited, allocated int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deposited, d.allocated
}
