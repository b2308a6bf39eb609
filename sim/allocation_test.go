package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankSpecies_OrdersByDemand(t *testing.T) {
	signals := []SpeciesSignal{
		{Species: "sheep", WaitingConsumers: 0, Level: 1},
		{Species: "cows", WaitingConsumers: 2, Level: 5},
		{Species: "pigs", WaitingConsumers: 2, Level: 0},
		{Species: "llamas", WaitingConsumers: 0, Level: 1},
	}

	RankSpecies(signals)

	got := make([]string, len(signals))
	for i, s := range signals {
		got[i] = s.Species
	}
	// waiting desc, level asc, then name
	assert.Equal(t, []string{"pigs", "cows", "llamas", "sheep"}, got)
}

func TestPriorityAllocation_Allocate(t *testing.T) {
	tests := []struct {
		name     string
		signals  []SpeciesSignal
		capacity int
		want     map[string]int
	}{
		{
			name:     "single species capped by pool",
			signals:  []SpeciesSignal{{Species: "pigs", Pool: 6}},
			capacity: 10,
			want:     map[string]int{"pigs": 6},
		},
		{
			name: "four three then round robin",
			signals: []SpeciesSignal{
				{Species: "pigs", Pool: 5, WaitingConsumers: 3},
				{Species: "cows", Pool: 5, WaitingConsumers: 1, Level: 2},
			},
			capacity: 8,
			want:     map[string]int{"pigs": 5, "cows": 3},
		},
		{
			name: "capacity smaller than top share",
			signals: []SpeciesSignal{
				{Species: "pigs", Pool: 5, WaitingConsumers: 3},
				{Species: "cows", Pool: 5, WaitingConsumers: 1},
			},
			capacity: 2,
			want:     map[string]int{"pigs": 2},
		},
		{
			name: "round robin reaches third species",
			signals: []SpeciesSignal{
				{Species: "a", Pool: 10, WaitingConsumers: 2},
				{Species: "b", Pool: 10, WaitingConsumers: 1},
				{Species: "c", Pool: 10},
			},
			capacity: 10,
			want:     map[string]int{"a": 5, "b": 4, "c": 1},
		},
		{
			name: "pool exhausted before capacity",
			signals: []SpeciesSignal{
				{Species: "a", Pool: 1},
				{Species: "b", Pool: 1, Level: 5},
			},
			capacity: 10,
			want:     map[string]int{"a": 1, "b": 1},
		},
		{
			name: "equal demand falls back to name order",
			signals: []SpeciesSignal{
				{Species: "sheep", Pool: 9, Level: 3},
				{Species: "cows", Pool: 9, Level: 3},
			},
			capacity: 5,
			want:     map[string]int{"cows": 4, "sheep": 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultPriorityAllocation().Allocate(tt.signals, tt.capacity)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorityAllocation_DoesNotReorderInput(t *testing.T) {
	signals := []SpeciesSignal{
		{Species: "cows", Pool: 1},
		{Species: "pigs", Pool: 1, WaitingConsumers: 4},
	}

	DefaultPriorityAllocation().Allocate(signals, 2)

	assert.Equal(t, "cows", signals[0].Species)
}

func TestRandomAllocation_RespectsPoolAndCapacity(t *testing.T) {
	// GIVEN a seeded random policy
	policy := NewRandomAllocation(rand.New(rand.NewSource(7)))
	signals := []SpeciesSignal{
		{Species: "pigs", Pool: 3},
		{Species: "cows", Pool: 8},
		{Species: "sheep", Pool: 1},
	}

	for i := 0; i < 200; i++ {
		got := policy.Allocate(signals, 6)

		// THEN every draw takes at least one animal and stays within bounds
		total := 0
		for _, s := range signals {
			assert.LessOrEqual(t, got[s.Species], s.Pool, "draw %d took too many %s", i, s.Species)
			total += got[s.Species]
		}
		assert.LessOrEqual(t, total, 6)
		assert.Positive(t, total)
	}
}

func TestRandomAllocation_SameSeedSameDraws(t *testing.T) {
	signals := []SpeciesSignal{{Species: "pigs", Pool: 5}, {Species: "cows", Pool: 5}}
	a := NewRandomAllocation(rand.New(rand.NewSource(3)))
	b := NewRandomAllocation(rand.New(rand.NewSource(3)))

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Allocate(signals, 4), b.Allocate(signals, 4))
	}
}

func TestNewAllocationPolicy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	p, err := NewAllocationPolicy("", rng)
	require.NoError(t, err)
	assert.IsType(t, &PriorityAllocation{}, p)

	p, err = NewAllocationPolicy(AllocationRandom, rng)
	require.NoError(t, err)
	assert.IsType(t, &RandomAllocation{}, p)

	_, err = NewAllocationPolicy(AllocationRandom, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewAllocationPolicy("fifo", rng)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, IsValidAllocationPolicy("fifo"))
}
