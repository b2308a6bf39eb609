package agent

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandobusta/farm-concurrency/sim"
	"github.com/fernandobusta/farm-concurrency/sim/internal/testutil"
	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

func fieldList(areas map[string]*sim.HoldingArea) []Field {
	out := make([]Field, 0, len(areas))
	for _, h := range areas {
		out = append(out, h)
	}
	return out
}

func TestNewBuyer_InvalidConfig(t *testing.T) {
	clock := testutil.NewRunningClock(t, 1000)
	fields := fieldList(testutil.NewFields(t, []string{"pigs"}, 10, 0))
	rng := rand.New(rand.NewSource(1))

	_, err := NewBuyer("buyer-1", clock, nil, sim.BuyerConfig{PatienceMin: 1, PatienceMax: 2}, rng, nil)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)

	_, err = NewBuyer("buyer-1", clock, fields, sim.BuyerConfig{PatienceMin: 5, PatienceMax: 2}, rng, nil)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)

	_, err = NewBuyer("buyer-1", clock, fields, sim.BuyerConfig{}, nil, nil)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)
}

func TestBuyer_BuysFromStockedField(t *testing.T) {
	// GIVEN a field holding five pigs and an impatient buyer
	clock := testutil.NewRunningClock(t, 1000)
	areas := testutil.NewFields(t, []string{"pigs"}, 10, 5)
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	b, err := NewBuyer("buyer-1", clock, fieldList(areas), sim.BuyerConfig{PatienceMin: 0, PatienceMax: 1},
		rand.New(rand.NewSource(1)), st)
	require.NoError(t, err)

	// WHEN the buyer shops
	stop := start(t, b.Run)
	require.Eventually(t, func() bool { return b.Purchases() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, stop())

	// THEN every purchase took one animal and was traced
	assert.Equal(t, 5-int(b.Purchases()), areas["pigs"].Level())
	require.Len(t, st.Purchases, int(b.Purchases()))
	for _, p := range st.Purchases {
		assert.Equal(t, "buyer-1", p.BuyerID)
		assert.Equal(t, "pigs", p.Species)
		assert.Equal(t, p.Elapsed-p.EnqueuedAt, p.WaitTicks)
	}
}

func TestBuyer_WaitsOnEmptyFieldUntilStocked(t *testing.T) {
	// GIVEN a buyer whose only field is empty
	clock := testutil.NewRunningClock(t, 1000)
	areas := testutil.NewFields(t, []string{"cows"}, 10, 0)
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	b, err := NewBuyer("buyer-1", clock, fieldList(areas), sim.BuyerConfig{PatienceMin: 0, PatienceMax: 0},
		rand.New(rand.NewSource(1)), st)
	require.NoError(t, err)
	stop := start(t, b.Run)

	// THEN it queues on the field
	require.Eventually(t, func() bool {
		return areas["cows"].WaitingConsumers() == 1 && b.WaitingOn() == "cows"
	}, time.Second, time.Millisecond)
	require.NoError(t, clock.AwaitTicks(context.Background(), 3))

	// WHEN a farmer stocks one cow
	_, err = areas["cows"].Stock(context.Background(), 1)
	require.NoError(t, err)

	// THEN the buyer gets it and its wait is recorded
	require.Eventually(t, func() bool { return b.Purchases() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, stop())
	require.Len(t, st.Purchases, 1)
	assert.GreaterOrEqual(t, st.Purchases[0].WaitTicks, int64(3))
	assert.Equal(t, 0, areas["cows"].WaitingConsumers())
}

func TestBuyer_CancelledWhileWaiting_LeavesStockUntouched(t *testing.T) {
	clock := testutil.NewRunningClock(t, 1000)
	areas := testutil.NewFields(t, []string{"sheep"}, 10, 0)
	b, err := NewBuyer("buyer-1", clock, fieldList(areas), sim.BuyerConfig{},
		rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	stop := start(t, b.Run)
	require.Eventually(t, func() bool { return areas["sheep"].WaitingConsumers() == 1 }, time.Second, time.Millisecond)

	assert.NoError(t, stop())

	assert.Equal(t, 0, areas["sheep"].Level())
	assert.Equal(t, 0, areas["sheep"].WaitingConsumers())
	assert.Equal(t, "", b.WaitingOn())
	assert.Zero(t, b.Purchases())
}

func TestBuyer_SameSeedSameChoices(t *testing.T) {
	clock := testutil.NewRunningClock(t, 1000)
	areas := testutil.NewFields(t, []string{"pigs", "cows", "sheep", "llamas"}, 10, 10)
	cfg := sim.BuyerConfig{PatienceMin: 5, PatienceMax: 15}

	// Field order passed in must not matter.
	fields := fieldList(areas)
	reversed := make([]Field, len(fields))
	for i, f := range fields {
		reversed[len(fields)-1-i] = f
	}
	a, err := NewBuyer("buyer-1", clock, fields, cfg, rand.New(rand.NewSource(9)), nil)
	require.NoError(t, err)
	b, err := NewBuyer("buyer-1", clock, reversed, cfg, rand.New(rand.NewSource(9)), nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.fields[a.rng.Intn(len(a.fields))].Species(), b.fields[b.rng.Intn(len(b.fields))].Species())
	}
}
