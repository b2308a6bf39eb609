package agent

import (
	"fmt"
	"sort"

	"github.com/fernandobusta/farm-concurrency/sim"
)

// Trailer is the load a farmer carries between the depot and the fields.
// It belongs to one farmer and is not safe for concurrent use.
type Trailer struct {
	capacity int
	load     map[string]int
	total    int
}

func NewTrailer(capacity int) (*Trailer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: trailer capacity must be > 0, got %d", sim.ErrInvalidConfig, capacity)
	}
	return &Trailer{capacity: capacity, load: make(map[string]int)}, nil
}

func (t *Trailer) Capacity() int { return t.capacity }
func (t *Trailer) Load() int     { return t.total }
func (t *Trailer) Space() int    { return t.capacity - t.total }

// Count returns how many animals of species are on board.
func (t *Trailer) Count(species string) int { return t.load[species] }

// Add loads animals. Nothing is loaded if any count is negative or the
// total would exceed the capacity.
func (t *Trailer) Add(animals map[string]int) error {
	n := 0
	for species, c := range animals {
		if c < 0 {
			return fmt.Errorf("%w: cannot load %d %s", sim.ErrInvalidAmount, c, species)
		}
		n += c
	}
	if t.total+n > t.capacity {
		return fmt.Errorf("%w: loading %d onto %d/%d", sim.ErrInvalidAmount, n, t.total, t.capacity)
	}
	for species, c := range animals {
		if c > 0 {
			t.load[species] += c
		}
	}
	t.total += n
	return nil
}

// Unload removes n animals of species.
func (t *Trailer) Unload(species string, n int) error {
	have := t.load[species]
	if n < 0 || n > have {
		return fmt.Errorf("%w: cannot unload %d %s from %d", sim.ErrInvalidAmount, n, species, have)
	}
	if n == have {
		delete(t.load, species)
	} else {
		t.load[species] = have - n
	}
	t.total -= n
	return nil
}

// Species lists the species on board in name order.
func (t *Trailer) Species() []string {
	out := make([]string, 0, len(t.load))
	for species := range t.load {
		out = append(out, species)
	}
	sort.Strings(out)
	return out
}

// Contents returns a copy of the load.
func (t *Trailer) Contents() map[string]int {
	out := make(map[string]int, len(t.load))
	for species, n := range t.load {
		out[species] = n
	}
	return out
}
