package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// TickSource is the part of the Clock that agents depend on.
// Agents never own the clock; they only wait on it.
type TickSource interface {
	CurrentTick() int64
	Elapsed() int64
	AwaitNextTick(ctx context.Context) error
	AwaitTicks(ctx context.Context, n int) error
}

// Clock is the process-wide discrete time source. A dedicated driver goroutine
// advances it once per TickDuration; every agent paces itself by waiting on it.
//
// CurrentTick wraps at DayLength. Elapsed counts every advance since creation and
// never wraps, so waiters detect a boundary even when DayLength is 1.
type Clock struct {
	period    time.Duration
	dayLength int64

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool

	tick    atomic.Int64
	elapsed atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

var _ TickSource = (*Clock)(nil)

// NewClock creates a stopped clock. Call Start to begin ticking.
func NewClock(cfg ClockConfig) (*Clock, error) {
	if cfg.TickDuration <= 0 {
		return nil, fmt.Errorf("%w: tick duration must be > 0, got %s", ErrInvalidConfig, cfg.TickDuration)
	}
	if cfg.DayLength <= 0 {
		return nil, fmt.Errorf("%w: day length must be > 0, got %d", ErrInvalidConfig, cfg.DayLength)
	}
	c := &Clock{
		period:    cfg.TickDuration,
		dayLength: cfg.DayLength,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// CurrentTick returns the tick within the current day.
func (c *Clock) CurrentTick() int64 { return c.tick.Load() }

// Elapsed returns the number of ticks since the clock was created.
func (c *Clock) Elapsed() int64 { return c.elapsed.Load() }

// Day returns the number of completed days.
func (c *Clock) Day() int64 { return c.elapsed.Load() / c.dayLength }

// DayLength returns the wrap bound of CurrentTick.
func (c *Clock) DayLength() int64 { return c.dayLength }

// TickDuration returns the wall-clock period between ticks.
func (c *Clock) TickDuration() time.Duration { return c.period }

// AwaitNextTick blocks until at least one tick boundary has been crossed since the call began.
// It returns an error matching ErrCancelled if ctx is done or the clock is shut down first.
func (c *Clock) AwaitNextTick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.elapsed.Load()
	err := waitFor(ctx, c.cond, func() bool {
		return c.elapsed.Load() != start || c.stopped
	})
	if err != nil {
		return err
	}
	if c.elapsed.Load() == start {
		return ErrClockStopped
	}
	return nil
}

// AwaitTicks waits for n tick boundaries, one AwaitNextTick at a time.
// Waking is broadcast, so counting individual boundaries is what keeps
// concurrent advances from being missed or double-counted.
func (c *Clock) AwaitTicks(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: tick count must be >= 0, got %d", ErrInvalidAmount, n)
	}
	for i := 0; i < n; i++ {
		if err := c.AwaitNextTick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the driver goroutine. Calling it more than once has no effect.
func (c *Clock) Start() {
	c.startOnce.Do(func() {
		go c.drive()
	})
}

// Shutdown stops the driver and releases every waiter with ErrClockStopped.
// The tick count is left where it was. Safe to call more than once, with or without Start.
func (c *Clock) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.quit)
		// Without Start there is no driver to close done.
		c.startOnce.Do(func() { close(c.done) })
		<-c.done

		c.mu.Lock()
		c.stopped = true
		c.cond.Broadcast()
		c.mu.Unlock()
		logrus.Debugf("[tick %05d] clock stopped after %d ticks", c.tick.Load(), c.elapsed.Load())
	})
}

func (c *Clock) drive() {
	defer close(c.done)
	t := time.NewTicker(c.period)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
			c.advance()
		}
	}
}

// advance moves the clock forward by one tick and wakes every waiter.
// Only the driver calls it outside of tests.
func (c *Clock) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.tick.Store((c.tick.Load() + 1) % c.dayLength)
	c.elapsed.Add(1)
	c.cond.Broadcast()
	logrus.Tracef("[tick %05d] advance", c.tick.Load())
}
