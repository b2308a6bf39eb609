// Package sim provides the shared primitives of the farm simulation.
//
// # Reading Guide
//
// Start with these three files:
//   - clock.go: the tick clock every agent waits on (tick, elapsed, day)
//   - holding_area.go: a field, a bounded single-species store with blocking stock and buy
//   - depot.go: the delivery pool farmers draw their trailer loads from
//
// # Architecture
//
// The sim package holds the monitors and configuration; the moving parts
// live in sub-packages:
//   - sim/agent/: delivery producer, farmers and buyers, one goroutine each
//   - sim/farm/: wires a FarmConfig into a running farm and summarizes it
//   - sim/trace/: in-memory decision trace
//   - sim/journal/: zstd JSONL and SQLite event journals
//   - sim/observe/: Prometheus metrics, snapshots and a websocket tick stream
//
// # Key Interfaces
//
//   - TickSource: what agents need from the clock
//   - DemandSignal: what the depot reads from each field when allocating
//   - AllocationPolicy: splits a trailer's capacity across species
package sim
