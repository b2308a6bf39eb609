package farm

import "github.com/fernandobusta/farm-concurrency/sim"

// FieldSnapshot is one holding area at a point in time.
type FieldSnapshot struct {
	Species  string `json:"species"`
	Level    int    `json:"level"`
	Capacity int    `json:"capacity"`
	Waiting  int    `json:"waiting"`
}

// FarmerSnapshot is one farmer at a point in time.
type FarmerSnapshot struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Carrying int    `json:"carrying"`
}

// BuyerSnapshot is one buyer at a point in time.
type BuyerSnapshot struct {
	ID        string `json:"id"`
	Purchases int64  `json:"purchases"`
	WaitingOn string `json:"waiting_on,omitempty"`
}

// Snapshot is a best-effort picture of a running farm. Components are read one
// after another without a global lock, so totals may be off by animals in flight.
type Snapshot struct {
	Elapsed      int64               `json:"elapsed"`
	Tick         int64               `json:"tick"`
	Day          int64               `json:"day"`
	DayLength    int64               `json:"day_length"`
	TickDuration string              `json:"tick_duration"`
	Fields       []FieldSnapshot     `json:"fields"`
	Depot        map[string]int      `json:"depot"`
	Farmers      []FarmerSnapshot    `json:"farmers"`
	Buyers       []BuyerSnapshot     `json:"buyers"`
	Metrics      sim.MetricsSnapshot `json:"metrics"`
}

// Snapshot reads the current state. Safe to call while Run is in progress.
func (f *Farm) Snapshot() Snapshot {
	s := Snapshot{
		Elapsed:      f.clock.Elapsed(),
		Tick:         f.clock.CurrentTick(),
		Day:          f.clock.Day(),
		DayLength:    f.clock.DayLength(),
		TickDuration: f.clock.TickDuration().String(),
		Fields:       make([]FieldSnapshot, 0, len(f.species)),
		Depot:        f.depot.Snapshot(),
		Farmers:      make([]FarmerSnapshot, 0, len(f.farmers)),
		Buyers:       make([]BuyerSnapshot, 0, len(f.buyers)),
		Metrics:      f.metrics.Snapshot(),
	}
	for _, species := range f.species {
		h := f.fields[species]
		s.Fields = append(s.Fields, FieldSnapshot{
			Species:  species,
			Level:    h.Level(),
			Capacity: h.Capacity(),
			Waiting:  h.WaitingConsumers(),
		})
	}
	for _, fm := range f.farmers {
		s.Farmers = append(s.Farmers, FarmerSnapshot{ID: fm.ID(), State: string(fm.State()), Carrying: fm.Carrying()})
	}
	for _, b := range f.buyers {
		s.Buyers = append(s.Buyers, BuyerSnapshot{ID: b.ID(), Purchases: b.Purchases(), WaitingOn: b.WaitingOn()})
	}
	return s
}

// Summary is the final state of a run plus the totals needed to balance it.
type Summary struct {
	Snapshot
	InitialStock int   `json:"initial_stock"`
	Deposited    int64 `json:"deposited"`
	Allocated    int64 `json:"allocated"`
}

// Summary snapshots the farm and the depot totals. Exact once Run has returned.
func (f *Farm) Summary() Summary {
	deposited, allocated := f.depot.Totals()
	return Summary{
		Snapshot:     f.Snapshot(),
		InitialStock: f.cfg.Fields.InitialStock * len(f.species),
		Deposited:    deposited,
		Allocated:    allocated,
	}
}

// InFields returns the animals currently in all fields.
func (s Summary) InFields() int {
	n := 0
	for _, fs := range s.Fields {
		n += fs.Level
	}
	return n
}

// OnTrailers returns the animals currently carried by farmers.
func (s Summary) OnTrailers() int {
	n := 0
	for _, fm := range s.Farmers {
		n += fm.Carrying
	}
	return n
}

// InDepot returns the animals waiting in the depot.
func (s Summary) InDepot() int {
	n := 0
	for _, c := range s.Depot {
		n += c
	}
	return n
}

// Unaccounted returns animals that entered the farm (initial stock and
// deliveries) minus those sold or still present. It is zero for a finished run.
func (s Summary) Unaccounted() int64 {
	in := int64(s.InitialStock) + s.Deposited
	out := s.Metrics.Purchases + int64(s.InFields()+s.OnTrailers()+s.InDepot())
	return in - out
}
