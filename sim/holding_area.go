package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// HoldingArea is the bounded field for one species. Farmers fill it with Stock,
// buyers drain it one animal at a time with TakeOne.
//
// level and waiting are written only under mu and read lock-free, so Depot can
// use them as (possibly stale) priority signals without taking this area's lock.
type HoldingArea struct {
	species  string
	capacity int

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	level   atomic.Int64
	waiting atomic.Int64

	// stockers serializes compound stocking sequences; buyers never take it.
	stockers chan struct{}
}

// NewHoldingArea creates a field holding initial animals out of capacity.
func NewHoldingArea(species string, capacity, initial int) (*HoldingArea, error) {
	if species == "" {
		return nil, fmt.Errorf("%w: species name must not be empty", ErrInvalidConfig)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %s capacity must be > 0, got %d", ErrInvalidConfig, species, capacity)
	}
	if initial < 0 || initial > capacity {
		return nil, fmt.Errorf("%w: %s initial stock %d outside [0, %d]", ErrInvalidConfig, species, initial, capacity)
	}
	h := &HoldingArea{
		species:  species,
		capacity: capacity,
		stockers: make(chan struct{}, 1),
	}
	h.notEmpty = sync.NewCond(&h.mu)
	h.notFull = sync.NewCond(&h.mu)
	h.level.Store(int64(initial))
	return h, nil
}

func (h *HoldingArea) Species() string { return h.species }
func (h *HoldingArea) Capacity() int   { return h.capacity }

// Level returns the current stock. The value may be stale by the time it is used.
func (h *HoldingArea) Level() int { return int(h.level.Load()) }

// WaitingConsumers returns how many TakeOne calls are currently blocked.
// It is a scheduling hint, not a FIFO guarantee.
func (h *HoldingArea) WaitingConsumers() int { return int(h.waiting.Load()) }

// Stock adds up to amount animals. While the field is full it blocks until a buyer
// frees room; it never returns zero added on success. The caller carries forward
// amount-added. Tick costs are the caller's business.
func (h *HoldingArea) Stock(ctx context.Context, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: stock amount must be > 0, got %d", ErrInvalidAmount, amount)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := waitFor(ctx, h.notFull, func() bool {
		return h.level.Load() < int64(h.capacity)
	}); err != nil {
		return 0, err
	}

	level := int(h.level.Load())
	added := min(h.capacity-level, amount)
	h.level.Store(int64(level + added))
	h.notEmpty.Broadcast()

	logrus.Debugf("%s stocked %d/%d (level %d/%d)", h.species, added, amount, level+added, h.capacity)
	return added, nil
}

// TakeOne removes a single animal, blocking while the field is empty.
// A blocked caller is counted in WaitingConsumers once for the whole wait.
// On cancellation the level is left untouched.
func (h *HoldingArea) TakeOne(ctx context.Context, callerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.level.Load() == 0 {
		h.waiting.Add(1)
		defer h.waiting.Add(-1)
		logrus.Debugf("%s waiting for %s to be stocked", callerID, h.species)
	}

	if err := waitFor(ctx, h.notEmpty, func() bool {
		return h.level.Load() > 0
	}); err != nil {
		return err
	}

	h.level.Add(-1)
	h.notFull.Broadcast()
	logrus.Debugf("%s took 1 %s (remaining %d)", callerID, h.species, h.level.Load())
	return nil
}

// Lock gives the caller exclusive use of this field among stockers, for sequences
// such as stock-then-spend-ticks that must not interleave with another farmer.
// Buyers are not excluded. It returns an error matching ErrCancelled if ctx ends first.
func (h *HoldingArea) Lock(ctx context.Context) error {
	select {
	case h.stockers <- struct{}{}:
		return nil
	case <-ctx.Done():
		return cancelled(ctx.Err())
	}
}

// Unlock releases the stocker lock taken by Lock.
func (h *HoldingArea) Unlock() {
	select {
	case <-h.stockers:
	default:
		panic("sim: Unlock of unlocked HoldingArea " + h.species)
	}
}
