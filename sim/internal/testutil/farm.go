// Package testutil provides shared test infrastructure for the farm packages:
// fast running clocks, ready-made fields and bounded channel receives.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fernandobusta/farm-concurrency/sim"
)

// FastTick is the tick period used by running test clocks.
const FastTick = 200 * time.Microsecond

// NewRunningClock starts a clock ticking every FastTick and shuts it down when the test ends.
func NewRunningClock(t testing.TB, dayLength int64) *sim.Clock {
	t.Helper()
	c, err := sim.NewClock(sim.ClockConfig{TickDuration: FastTick, DayLength: dayLength})
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Shutdown)
	return c
}

// NewFields creates one holding area per species, all with the same capacity and initial stock.
func NewFields(t testing.TB, species []string, capacity, initial int) map[string]*sim.HoldingArea {
	t.Helper()
	out := make(map[string]*sim.HoldingArea, len(species))
	for _, s := range species {
		h, err := sim.NewHoldingArea(s, capacity, initial)
		require.NoError(t, err)
		out[s] = h
	}
	return out
}

// NewDepot creates a priority depot fed by the given fields.
func NewDepot(t testing.TB, fields map[string]*sim.HoldingArea) *sim.Depot {
	t.Helper()
	signals := make(map[string]sim.DemandSignal, len(fields))
	for s, h := range fields {
		signals[s] = h
	}
	d, err := sim.NewDepot(signals, nil)
	require.NoError(t, err)
	return d
}

// Receive waits up to timeout for a value on ch and fails the test otherwise.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %s waiting for %s", timeout, what)
		var zero T
		return zero
	}
}
