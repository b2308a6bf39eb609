package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every delivery, allocation, stock, purchase and break.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a farm run.
// Safe for concurrent use; read the slices only after the run has stopped.
type SimulationTrace struct {
	Config      TraceConfig
	Deliveries  []DeliveryRecord
	Allocations []AllocationRecord
	Stocks      []StockRecord
	Purchases   []PurchaseRecord
	Breaks      []BreakRecord

	mu sync.Mutex
}

var _ Recorder = (*SimulationTrace)(nil)

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Deliveries:  make([]DeliveryRecord, 0),
		Allocations: make([]AllocationRecord, 0),
		Stocks:      make([]StockRecord, 0),
		Purchases:   make([]PurchaseRecord, 0),
		Breaks:      make([]BreakRecord, 0),
	}
}

func (st *SimulationTrace) enabled() bool {
	return st.Config.Level == TraceLevelDecisions
}

// RecordDelivery appends a delivery record.
func (st *SimulationTrace) RecordDelivery(record DeliveryRecord) {
	if !st.enabled() {
		return
	}
	record.Animals = cloneCounts(record.Animals)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Deliveries = append(st.Deliveries, record)
}

// RecordAllocation appends an allocation record.
func (st *SimulationTrace) RecordAllocation(record AllocationRecord) {
	if !st.enabled() {
		return
	}
	record.Granted = cloneCounts(record.Granted)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Allocations = append(st.Allocations, record)
}

// RecordStock appends a stock record.
func (st *SimulationTrace) RecordStock(record StockRecord) {
	if !st.enabled() {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Stocks = append(st.Stocks, record)
}

// RecordPurchase appends a purchase record.
func (st *SimulationTrace) RecordPurchase(record PurchaseRecord) {
	if !st.enabled() {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Purchases = append(st.Purchases, record)
}

// RecordBreak appends a break record.
func (st *SimulationTrace) RecordBreak(record BreakRecord) {
	if !st.enabled() {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Breaks = append(st.Breaks, record)
}

// cloneCounts copies a species map so later mutation by the caller cannot leak into the trace.
func cloneCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
