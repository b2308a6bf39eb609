// Package trace provides decision-trace recording for farm runs.
// This package has no dependencies on sim/ or its sub-packages; it stores pure data types.
package trace

// DeliveryRecord captures one delivery deposited into the depot.
type DeliveryRecord struct {
	Elapsed int64 // ticks since start
	Tick    int64 // tick within the day
	Animals map[string]int
}

// AllocationRecord captures one depot allocation handed to a farmer.
type AllocationRecord struct {
	FarmerID  string
	Elapsed   int64
	Tick      int64
	Requested int            // free trailer space offered to the depot
	Granted   map[string]int // species → animals loaded
}

// StockRecord captures one farmer visit to a field.
type StockRecord struct {
	FarmerID  string
	Species   string
	Elapsed   int64
	Tick      int64
	Requested int // animals carried for this field
	Added     int // animals the field accepted
}

// PurchaseRecord captures one completed buyer purchase.
type PurchaseRecord struct {
	BuyerID    string
	Species    string
	Elapsed    int64
	Tick       int64
	EnqueuedAt int64 // elapsed tick at which the buyer started waiting
	WaitTicks  int64
}

// BreakRecord captures a farmer break.
type BreakRecord struct {
	FarmerID string
	Elapsed  int64
	Tick     int64
	Duration int
}

// Recorder receives records from concurrently running agents.
// Implementations MUST be safe for concurrent use.
type Recorder interface {
	RecordDelivery(DeliveryRecord)
	RecordAllocation(AllocationRecord)
	RecordStock(StockRecord)
	RecordPurchase(PurchaseRecord)
	RecordBreak(BreakRecord)
}

// Nop discards every record.
type Nop struct{}

func (Nop) RecordDelivery(DeliveryRecord)     {}
func (Nop) RecordAllocation(AllocationRecord) {}
func (Nop) RecordStock(StockRecord)           {}
func (Nop) RecordPurchase(PurchaseRecord)     {}
func (Nop) RecordBreak(BreakRecord)           {}

// Tee forwards every record to each recorder in order. Nil recorders are skipped.
func Tee(recorders ...Recorder) Recorder {
	out := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type tee []Recorder

func (t tee) RecordDelivery(r DeliveryRecord) {
	for _, rec := range t {
		rec.RecordDelivery(r)
	}
}

func (t tee) RecordAllocation(r AllocationRecord) {
	for _, rec := range t {
		rec.RecordAllocation(r)
	}
}

func (t tee) RecordStock(r StockRecord) {
	for _, rec := range t {
		rec.RecordStock(r)
	}
}

func (t tee) RecordPurchase(r PurchaseRecord) {
	for _, rec := range t {
		rec.RecordPurchase(r)
	}
}

func (t tee) RecordBreak(r BreakRecord) {
	for _, rec := range t {
		rec.RecordBreak(r)
	}
}
