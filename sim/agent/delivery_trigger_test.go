package agent

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandobusta/farm-concurrency/sim"
)

func TestRandomTrigger_FirstTickDelivers(t *testing.T) {
	trigger, err := NewRandomTrigger(rand.New(rand.NewSource(1)), 0, 80, 119)
	require.NoError(t, err)

	assert.True(t, trigger.Due(1))
}

func TestRandomTrigger_ForcesDeliveryAfterGap(t *testing.T) {
	// GIVEN no chance deliveries and a fixed gap of five ticks
	trigger, err := NewRandomTrigger(rand.New(rand.NewSource(1)), 0, 5, 5)
	require.NoError(t, err)
	trigger.Delivered(10)

	// THEN nothing is due before the gap has passed
	for tick := int64(11); tick < 15; tick++ {
		assert.False(t, trigger.Due(tick), "tick %d", tick)
	}
	assert.True(t, trigger.Due(15))
}

func TestRandomTrigger_CertainProbabilityAlwaysDue(t *testing.T) {
	trigger, err := NewRandomTrigger(rand.New(rand.NewSource(1)), 1, 100, 100)
	require.NoError(t, err)

	for tick := int64(1); tick < 50; tick++ {
		require.True(t, trigger.Due(tick))
		trigger.Delivered(tick)
	}
}

func TestNewRandomTrigger_InvalidParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, tc := range []struct {
		p        float64
		min, max int
	}{{-0.1, 1, 2}, {1.1, 1, 2}, {0.1, 0, 2}, {0.1, 5, 2}} {
		_, err := NewRandomTrigger(rng, tc.p, tc.min, tc.max)
		assert.ErrorIs(t, err, sim.ErrInvalidConfig)
	}
}

func TestSimTime_MapsTicksOntoCalendar(t *testing.T) {
	assert.Equal(t, SimEpoch, SimTime(0, 1000))
	assert.Equal(t, SimEpoch.Add(6*time.Hour), SimTime(250, 1000))
	assert.Equal(t, SimEpoch.AddDate(0, 0, 1).Add(12*time.Hour), SimTime(1500, 1000))
}

func TestCronTrigger_FiresOnSimulatedCalendar(t *testing.T) {
	// GIVEN a 06:00 daily schedule and 1000-tick days, so 06:00 is tick 250
	trigger, err := NewCronTrigger("0 6 * * *", 1000)
	require.NoError(t, err)

	assert.False(t, trigger.Due(249))
	assert.True(t, trigger.Due(250))

	// WHEN the morning delivery is made
	trigger.Delivered(250)

	// THEN the next one is due the following morning
	assert.False(t, trigger.Due(1249))
	assert.True(t, trigger.Due(1250))
	assert.Equal(t, SimEpoch.AddDate(0, 0, 1).Add(6*time.Hour), trigger.Next())
}

func TestCronTrigger_MidnightScheduleFiresAtStart(t *testing.T) {
	trigger, err := NewCronTrigger("@daily", 100)
	require.NoError(t, err)

	assert.True(t, trigger.Due(0))
}

func TestNewCronTrigger_BadExpression(t *testing.T) {
	_, err := NewCronTrigger("every morning", 1000)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)

	_, err = NewCronTrigger("0 6 * * *", 0)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)
}

type fixedGap int64

func (g fixedGap) SampleGap(*rand.Rand) int64 { return int64(g) }

func TestGapTrigger_SpacesDeliveriesBySampledGaps(t *testing.T) {
	trigger := NewGapTrigger(fixedGap(7), rand.New(rand.NewSource(1)))

	assert.False(t, trigger.Due(6))
	assert.True(t, trigger.Due(7))
	trigger.Delivered(9)
	assert.False(t, trigger.Due(15))
	assert.True(t, trigger.Due(16))
}

func TestNewDeliveryTrigger_SelectsByConfig(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := sim.DefaultFarmConfig().Delivery

	trigger, err := NewDeliveryTrigger(base, 1000, rng)
	require.NoError(t, err)
	assert.IsType(t, &RandomTrigger{}, trigger)

	withArrival := base
	withArrival.Arrival = sim.ArrivalGamma
	withArrival.CV = 2
	trigger, err = NewDeliveryTrigger(withArrival, 1000, rng)
	require.NoError(t, err)
	assert.IsType(t, &GapTrigger{}, trigger)

	withSchedule := withArrival
	withSchedule.Schedule = "30 */4 * * *"
	trigger, err = NewDeliveryTrigger(withSchedule, 1000, rng)
	require.NoError(t, err)
	assert.IsType(t, &CronTrigger{}, trigger)
}
