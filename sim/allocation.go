package sim

import (
	"fmt"
	"math/rand"
	"sort"
)

// SpeciesSignal is the demand picture of one species at allocation time.
type SpeciesSignal struct {
	Species          string
	Pool             int // animals of this species waiting in the depot
	Level            int // animals currently in the species' field
	WaitingConsumers int // buyers blocked on the species' field
}

// AllocationPolicy decides which animals a farmer takes from the depot.
// Implementations receive only species with Pool > 0 and a capacity > 0, and
// MUST return counts that respect both Pool and capacity.
// They are called with the depot lock held and must not block.
type AllocationPolicy interface {
	Allocate(signals []SpeciesSignal, capacity int) map[string]int
}

// RankSpecies orders signals by waiting consumers (desc), field level (asc),
// then species name (asc). The name key makes equal-demand ties deterministic.
func RankSpecies(signals []SpeciesSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.WaitingConsumers != b.WaitingConsumers {
			return a.WaitingConsumers > b.WaitingConsumers
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Species < b.Species
	})
}

// PriorityAllocation gives the most contested species up to TopShare animals,
// the runner-up up to SecondShare, then fills the remaining capacity round-robin,
// one animal per species per pass, in rank order.
//
// With the default 4/3 split the hottest species always gets a meaningful share
// while the round-robin pass keeps any one species from taking all leftovers.
type PriorityAllocation struct {
	TopShare    int
	SecondShare int
}

// DefaultPriorityAllocation returns the 4/3/round-robin rule.
func DefaultPriorityAllocation() *PriorityAllocation {
	return &PriorityAllocation{TopShare: 4, SecondShare: 3}
}

func (p *PriorityAllocation) Allocate(signals []SpeciesSignal, capacity int) map[string]int {
	ranked := append([]SpeciesSignal(nil), signals...)
	RankSpecies(ranked)

	taken := make(map[string]int, len(ranked))
	left := make([]int, len(ranked))
	for i, s := range ranked {
		left[i] = s.Pool
	}
	space := capacity

	take := func(i, upTo int) {
		n := min(upTo, left[i], space)
		if n <= 0 {
			return
		}
		taken[ranked[i].Species] += n
		left[i] -= n
		space -= n
	}

	if len(ranked) > 0 {
		take(0, p.TopShare)
	}
	if len(ranked) > 1 {
		take(1, p.SecondShare)
	}

	for space > 0 {
		progressed := false
		for i := range ranked {
			if space == 0 {
				break
			}
			if left[i] > 0 {
				take(i, 1)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return taken
}

// RandomAllocation visits species in random order and takes a random 1..max share
// of each until the capacity is used. It ignores demand signals and is kept as a
// baseline to compare PriorityAllocation against.
//
// Not safe for concurrent use; Depot only calls it under its lock.
type RandomAllocation struct {
	rng *rand.Rand
}

func NewRandomAllocation(rng *rand.Rand) *RandomAllocation {
	if rng == nil {
		panic("NewRandomAllocation: rng must not be nil")
	}
	return &RandomAllocation{rng: rng}
}

func (r *RandomAllocation) Allocate(signals []SpeciesSignal, capacity int) map[string]int {
	// Sort first so the shuffle depends only on the seed, not on map iteration order.
	order := append([]SpeciesSignal(nil), signals...)
	sort.Slice(order, func(i, j int) bool { return order[i].Species < order[j].Species })
	r.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	taken := make(map[string]int, len(order))
	space := capacity
	for _, s := range order {
		if space == 0 {
			break
		}
		maxTake := min(space, s.Pool)
		if maxTake <= 0 {
			continue
		}
		n := r.rng.Intn(maxTake) + 1
		taken[s.Species] = n
		space -= n
	}
	return taken
}

const (
	AllocationPriority = "priority"
	AllocationRandom   = "random"
)

var validAllocationPolicies = map[string]bool{
	AllocationPriority: true,
	AllocationRandom:   true,
	"":                 true, // empty defaults to priority
}

// IsValidAllocationPolicy returns true if name is a recognized allocation policy.
func IsValidAllocationPolicy(name string) bool {
	return validAllocationPolicies[name]
}

// NewAllocationPolicy creates the named policy. rng is only used by "random".
func NewAllocationPolicy(name string, rng *rand.Rand) (AllocationPolicy, error) {
	switch name {
	case "", AllocationPriority:
		return DefaultPriorityAllocation(), nil
	case AllocationRandom:
		if rng == nil {
			return nil, fmt.Errorf("%w: random allocation needs an rng", ErrInvalidConfig)
		}
		return NewRandomAllocation(rng), nil
	default:
		return nil, fmt.Errorf("%w: unknown allocation policy %q", ErrInvalidConfig, name)
	}
}
