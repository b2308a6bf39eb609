package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// Stream names. Farmers and buyers get one stream each, see FarmerStream
// and BuyerStream.
const (
	// StreamDelivery drives delivery timing and composition. It is seeded
	// with the run seed itself, so a seed fully describes the delivery history.
	StreamDelivery = "delivery"

	// StreamAllocation feeds the random allocation strategy.
	StreamAllocation = "allocation"
)

// FarmerStream names the stream of the farmer with the given 1-based index.
func FarmerStream(n int) string { return fmt.Sprintf("farmer_%d", n) }

// BuyerStream names the stream of the buyer with the given 1-based index.
func BuyerStream(n int) string { return fmt.Sprintf("buyer_%d", n) }

// Streams hands out one independent *rand.Rand per named consumer, all
// derived from a single run seed. Draws on one stream never shift another,
// so adding a buyer does not change what the delivery producer sends.
//
// Agents interleave on real goroutines: equal seeds give equal per-agent
// sequences, not identical farms.
//
// Stream is safe for concurrent use. Each returned *rand.Rand is not and
// belongs to a single goroutine.
type Streams struct {
	seed int64

	mu      sync.Mutex
	streams map[string]*rand.Rand
}

// NewStreams creates the stream set for a run seed.
func NewStreams(seed int64) *Streams {
	return &Streams{seed: seed, streams: make(map[string]*rand.Rand)}
}

// Seed returns the run seed.
func (s *Streams) Seed() int64 { return s.seed }

// Stream returns the generator for name, creating it on first use.
// Repeated calls with the same name return the same generator.
func (s *Streams) Stream(name string) *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.streams[name]; ok {
		return r
	}
	r := rand.New(rand.NewSource(deriveSeed(s.seed, name)))
	s.streams[name] = r
	return r
}

// deriveSeed is the run seed for StreamDelivery and seed XOR fnv1a64(name)
// for every other stream.
func deriveSeed(seed int64, name string) int64 {
	if name == StreamDelivery {
		return seed
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return seed ^ int64(h.Sum64())
}
