// Package journal persists the records of a farm run: compressed JSONL files
// rotated per simulated day, and a SQLite store that can be queried afterwards.
package journal

import (
	"encoding/json"

	"github.com/fernandobusta/farm-concurrency/sim/trace"
)

// Event kinds.
const (
	KindDelivery   = "delivery"
	KindAllocation = "allocation"
	KindStock      = "stock"
	KindPurchase   = "purchase"
	KindBreak      = "break"
)

// Event is one journal entry. Amount is the number of animals involved
// (ticks for a break); Data holds the full record.
type Event struct {
	Kind    string          `json:"kind"`
	Elapsed int64           `json:"elapsed"`
	Tick    int64           `json:"tick"`
	Agent   string          `json:"agent,omitempty"`
	Species string          `json:"species,omitempty"`
	Amount  int             `json:"amount"`
	Wait    int64           `json:"wait,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Emitter turns agent records into Events for the wrapped function.
// It implements trace.Recorder.
type Emitter func(Event)

var _ trace.Recorder = Emitter(nil)

func (e Emitter) RecordDelivery(r trace.DeliveryRecord) {
	e(Event{Kind: KindDelivery, Elapsed: r.Elapsed, Tick: r.Tick, Agent: "delivery", Amount: sum(r.Animals), Data: raw(r)})
}

func (e Emitter) RecordAllocation(r trace.AllocationRecord) {
	e(Event{Kind: KindAllocation, Elapsed: r.Elapsed, Tick: r.Tick, Agent: r.FarmerID, Amount: sum(r.Granted), Data: raw(r)})
}

func (e Emitter) RecordStock(r trace.StockRecord) {
	e(Event{Kind: KindStock, Elapsed: r.Elapsed, Tick: r.Tick, Agent: r.FarmerID, Species: r.Species, Amount: r.Added, Data: raw(r)})
}

func (e Emitter) RecordPurchase(r trace.PurchaseRecord) {
	e(Event{Kind: KindPurchase, Elapsed: r.Elapsed, Tick: r.Tick, Agent: r.BuyerID, Species: r.Species, Amount: 1, Wait: r.WaitTicks, Data: raw(r)})
}

func (e Emitter) RecordBreak(r trace.BreakRecord) {
	e(Event{Kind: KindBreak, Elapsed: r.Elapsed, Tick: r.Tick, Agent: r.FarmerID, Amount: r.Duration, Data: raw(r)})
}

func sum(m map[string]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

// raw marshals a record. Records are plain structs of ints, strings and maps,
// so marshalling cannot fail.
func raw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
