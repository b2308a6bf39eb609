package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	Deliveries       int
	DeliveredAnimals int
	Allocations      int
	AllocatedAnimals int
	StockVisits      int
	StockedAnimals   int
	Purchases        int
	Breaks           int
	MeanWaitTicks    float64
	MaxWaitTicks     int64

	DeliveredBySpecies map[string]int
	AllocatedBySpecies map[string]int
	PurchasedBySpecies map[string]int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		DeliveredBySpecies: make(map[string]int),
		AllocatedBySpecies: make(map[string]int),
		PurchasedBySpecies: make(map[string]int),
	}
	if st == nil {
		return summary
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	summary.Deliveries = len(st.Deliveries)
	for _, d := range st.Deliveries {
		for species, n := range d.Animals {
			summary.DeliveredBySpecies[species] += n
			summary.DeliveredAnimals += n
		}
	}

	summary.Allocations = len(st.Allocations)
	for _, a := range st.Allocations {
		for species, n := range a.Granted {
			summary.AllocatedBySpecies[species] += n
			summary.AllocatedAnimals += n
		}
	}

	summary.StockVisits = len(st.Stocks)
	for _, s := range st.Stocks {
		summary.StockedAnimals += s.Added
	}

	summary.Purchases = len(st.Purchases)
	if len(st.Purchases) > 0 {
		var totalWait int64
		for _, p := range st.Purchases {
			summary.PurchasedBySpecies[p.Species]++
			totalWait += p.WaitTicks
			if p.WaitTicks > summary.MaxWaitTicks {
				summary.MaxWaitTicks = p.WaitTicks
			}
		}
		summary.MeanWaitTicks = float64(totalWait) / float64(len(st.Purchases))
	}

	summary.Breaks = len(st.Breaks)
	return summary
}
