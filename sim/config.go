package sim

import (
	"fmt"
	"time"
)

// DefaultSpecies is the catalogue fields are drawn from when none are listed.
var DefaultSpecies = []string{
	"pigs", "cows", "sheep", "llamas", "chicken", "bulls", "dogs", "cats", "rabbits", "horses",
}

// ClockConfig groups Clock parameters.
type ClockConfig struct {
	TickDuration time.Duration // wall-clock period of one tick (must be > 0)
	DayLength    int64         // ticks per day; CurrentTick wraps here (must be > 0)
}

// FieldConfig groups holding area parameters. Every field shares Capacity and InitialStock.
type FieldConfig struct {
	Species      []string // one field per entry, names must be unique
	Capacity     int      // max animals per field (must be > 0)
	InitialStock int      // animals in each field at start, 0..Capacity
}

// FarmerConfig groups farmer agent policy.
type FarmerConfig struct {
	Count              int // number of farmer goroutines
	TrailerCapacity    int // animals a trailer carries (must be > 0)
	TravelBaseTicks    int // travel cost per leg before the per-animal surcharge
	BreakDuration      int // ticks per break
	BreakIntervalMin   int // min ticks between breaks
	BreakIntervalMax   int // max ticks between breaks, >= BreakIntervalMin
	AllocationStrategy string
}

// BuyerConfig groups buyer agent policy.
type BuyerConfig struct {
	Count       int
	PatienceMin int // min ticks between purchases
	PatienceMax int // max ticks between purchases, >= PatienceMin
}

// DeliveryConfig groups delivery producer policy.
// With Schedule set, deliveries follow the cron expression on the simulated calendar.
// Otherwise, with Arrival set, gaps between deliveries are drawn from that process
// with a mean of (MinGap+MaxGap)/2. Otherwise the probability/forced-gap rule applies.
type DeliveryConfig struct {
	Size          int     // animals per delivery (must be > 0)
	MaxPerSpecies int     // cap per species except the last one drawn (must be > 0)
	Probability   float64 // chance of an unscheduled delivery each tick, [0, 1]
	MinGap        int     // forced delivery once this many..
	MaxGap        int     // ..to this many ticks passed since the last one
	Schedule      string  // optional 5-field cron expression
	Arrival       string  // optional gap process: poisson, gamma or weibull
	CV            float64 // coefficient of variation for gamma and weibull gaps
}

// Delivery arrival processes.
const (
	ArrivalPoisson = "poisson"
	ArrivalGamma   = "gamma"
	ArrivalWeibull = "weibull"
)

// IsValidArrivalProcess reports whether name is empty or a known arrival process.
func IsValidArrivalProcess(name string) bool {
	switch name {
	case "", ArrivalPoisson, ArrivalGamma, ArrivalWeibull:
		return true
	}
	return false
}

// FarmConfig is the full configuration of one simulation run.
type FarmConfig struct {
	Clock    ClockConfig
	Fields   FieldConfig
	Farmers  FarmerConfig
	Buyers   BuyerConfig
	Delivery DeliveryConfig
	Seed     int64
	Duration time.Duration // wall-clock run time; 0 runs until cancelled
}

// DefaultFarmConfig returns the stock farm: five fields of ten, three farmers, three buyers.
func DefaultFarmConfig() FarmConfig {
	return FarmConfig{
		Clock: ClockConfig{TickDuration: 100 * time.Millisecond, DayLength: 1000},
		Fields: FieldConfig{
			Species:      append([]string(nil), DefaultSpecies[:5]...),
			Capacity:     10,
			InitialStock: 5,
		},
		Farmers: FarmerConfig{
			Count:              3,
			TrailerCapacity:    10,
			TravelBaseTicks:    10,
			BreakDuration:      150,
			BreakIntervalMin:   300,
			BreakIntervalMax:   300,
			AllocationStrategy: AllocationPriority,
		},
		Buyers: BuyerConfig{Count: 3, PatienceMin: 5, PatienceMax: 15},
		Delivery: DeliveryConfig{
			Size:          10,
			MaxPerSpecies: 3,
			Probability:   0.01,
			MinGap:        80,
			MaxGap:        119,
		},
		Seed:     42,
		Duration: 300 * time.Second,
	}
}

// Validate reports the first problem found, wrapped in ErrInvalidConfig.
func (c FarmConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Clock.TickDuration <= 0:
		return invalid("tick duration must be > 0")
	case c.Clock.DayLength <= 0:
		return invalid("day length must be > 0")
	case len(c.Fields.Species) == 0:
		return invalid("at least one field is required")
	case c.Fields.Capacity <= 0:
		return invalid("field capacity must be > 0")
	case c.Fields.InitialStock < 0 || c.Fields.InitialStock > c.Fields.Capacity:
		return invalid("initial stock %d outside [0, %d]", c.Fields.InitialStock, c.Fields.Capacity)
	case c.Farmers.Count < 0 || c.Buyers.Count < 0:
		return invalid("agent counts must be >= 0")
	case c.Farmers.TrailerCapacity <= 0:
		return invalid("trailer capacity must be > 0")
	case c.Farmers.TravelBaseTicks < 0 || c.Farmers.BreakDuration < 0:
		return invalid("travel and break ticks must be >= 0")
	case c.Farmers.BreakIntervalMin <= 0 || c.Farmers.BreakIntervalMax < c.Farmers.BreakIntervalMin:
		return invalid("break interval [%d, %d] must be positive and ordered", c.Farmers.BreakIntervalMin, c.Farmers.BreakIntervalMax)
	case !IsValidAllocationPolicy(c.Farmers.AllocationStrategy):
		return invalid("unknown allocation strategy %q", c.Farmers.AllocationStrategy)
	case c.Buyers.PatienceMin < 0 || c.Buyers.PatienceMax < c.Buyers.PatienceMin:
		return invalid("buyer patience [%d, %d] must be non-negative and ordered", c.Buyers.PatienceMin, c.Buyers.PatienceMax)
	case c.Delivery.Size <= 0 || c.Delivery.MaxPerSpecies <= 0:
		return invalid("delivery size and per-species cap must be > 0")
	case c.Delivery.Probability < 0 || c.Delivery.Probability > 1:
		return invalid("delivery probability %v outside [0, 1]", c.Delivery.Probability)
	case c.Delivery.MinGap <= 0 || c.Delivery.MaxGap < c.Delivery.MinGap:
		return invalid("delivery gap [%d, %d] must be positive and ordered", c.Delivery.MinGap, c.Delivery.MaxGap)
	case !IsValidArrivalProcess(c.Delivery.Arrival):
		return invalid("unknown delivery arrival process %q", c.Delivery.Arrival)
	case c.Delivery.CV < 0:
		return invalid("delivery arrival cv must be >= 0")
	case c.Duration < 0:
		return invalid("duration must be >= 0")
	}
	seen := make(map[string]bool, len(c.Fields.Species))
	for _, s := range c.Fields.Species {
		if s == "" {
			return invalid("species names must not be empty")
		}
		if seen[s] {
			return invalid("duplicate species %q", s)
		}
		seen[s] = true
	}
	return nil
}
