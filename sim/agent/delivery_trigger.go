package agent

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fernandobusta/farm-concurrency/sim"
)

// DeliveryTrigger decides on which ticks a delivery arrives.
// The producer asks Due once per tick and calls Delivered after each delivery.
type DeliveryTrigger interface {
	Due(elapsed int64) bool
	Delivered(elapsed int64)
}

// NewDeliveryTrigger builds the trigger cfg asks for: a cron schedule, an
// arrival process, or the default probability/forced-gap rule.
// rng must belong to the caller's goroutine.
func NewDeliveryTrigger(cfg sim.DeliveryConfig, dayLength int64, rng *rand.Rand) (DeliveryTrigger, error) {
	switch {
	case cfg.Schedule != "":
		return NewCronTrigger(cfg.Schedule, dayLength)
	case cfg.Arrival != "":
		sampler, err := NewGapSampler(cfg.Arrival, float64(cfg.MinGap+cfg.MaxGap)/2, cfg.CV)
		if err != nil {
			return nil, err
		}
		return NewGapTrigger(sampler, rng), nil
	default:
		return NewRandomTrigger(rng, cfg.Probability, cfg.MinGap, cfg.MaxGap)
	}
}

// RandomTrigger fires with a fixed probability every tick, and always once
// a randomly drawn gap in [minGap, maxGap] has passed since the last delivery.
// The first tick always delivers.
type RandomTrigger struct {
	rng         *rand.Rand
	probability float64
	minGap      int
	maxGap      int

	last      int64
	threshold int
}

func NewRandomTrigger(rng *rand.Rand, probability float64, minGap, maxGap int) (*RandomTrigger, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: random delivery trigger needs an rng", sim.ErrInvalidConfig)
	}
	if probability < 0 || probability > 1 || minGap <= 0 || maxGap < minGap {
		return nil, fmt.Errorf("%w: delivery probability %v gap [%d, %d]", sim.ErrInvalidConfig, probability, minGap, maxGap)
	}
	t := &RandomTrigger{rng: rng, probability: probability, minGap: minGap, maxGap: maxGap}
	t.threshold = t.drawGap()
	t.last = -int64(t.threshold)
	return t, nil
}

func (t *RandomTrigger) Due(elapsed int64) bool {
	// Draw every tick so the stream advances the same way whether or not the gap forces a delivery.
	lucky := t.rng.Float64() < t.probability
	return lucky || elapsed-t.last >= int64(t.threshold)
}

func (t *RandomTrigger) Delivered(elapsed int64) {
	t.last = elapsed
	t.threshold = t.drawGap()
}

func (t *RandomTrigger) drawGap() int {
	return t.minGap + t.rng.Intn(t.maxGap-t.minGap+1)
}

// GapTrigger fires after gaps drawn from a GapSampler.
type GapTrigger struct {
	sampler GapSampler
	rng     *rand.Rand
	next    int64
}

func NewGapTrigger(sampler GapSampler, rng *rand.Rand) *GapTrigger {
	return &GapTrigger{sampler: sampler, rng: rng, next: sampler.SampleGap(rng)}
}

func (t *GapTrigger) Due(elapsed int64) bool { return elapsed >= t.next }

func (t *GapTrigger) Delivered(elapsed int64) {
	t.next = elapsed + t.sampler.SampleGap(t.rng)
}

// SimEpoch is the wall-clock instant of elapsed tick 0 on the simulated calendar.
var SimEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// SimTime maps an elapsed tick onto the simulated calendar, where one day
// lasts dayLength ticks.
func SimTime(elapsed, dayLength int64) time.Time {
	day, rem := elapsed/dayLength, elapsed%dayLength
	within := time.Duration(float64(rem) / float64(dayLength) * float64(24*time.Hour))
	return SimEpoch.AddDate(0, 0, int(day)).Add(within)
}

// CronTrigger fires when the simulated calendar reaches the next activation
// of a cron schedule. Several activations inside one tick produce one delivery.
type CronTrigger struct {
	schedule  cron.Schedule
	dayLength int64
	next      time.Time
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseDeliverySchedule checks a 5-field cron expression or @descriptor.
func ParseDeliverySchedule(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: delivery schedule %q: %w", sim.ErrInvalidConfig, expr, err)
	}
	return schedule, nil
}

func NewCronTrigger(expr string, dayLength int64) (*CronTrigger, error) {
	if dayLength <= 0 {
		return nil, fmt.Errorf("%w: day length must be > 0", sim.ErrInvalidConfig)
	}
	schedule, err := ParseDeliverySchedule(expr)
	if err != nil {
		return nil, err
	}
	return &CronTrigger{
		schedule:  schedule,
		dayLength: dayLength,
		next:      schedule.Next(SimEpoch.Add(-time.Second)),
	}, nil
}

func (t *CronTrigger) Due(elapsed int64) bool {
	return !SimTime(elapsed, t.dayLength).Before(t.next)
}

func (t *CronTrigger) Delivered(elapsed int64) {
	t.next = t.schedule.Next(SimTime(elapsed, t.dayLength))
}

// Next returns the calendar time of the next activation.
func (t *CronTrigger) Next() time.Time { return t.next }
