package cmd

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fernandobusta/farm-concurrency/sim/farm"
	"github.com/fernandobusta/farm-concurrency/sim/journal"
)

const barWidth = 20

type reportStyles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	label      lipgloss.Style
	value      lipgloss.Style
	warning    lipgloss.Style
	barBracket lipgloss.Style
	barFill    lipgloss.Style
	barEmpty   lipgloss.Style
}

func newReportStyles() reportStyles {
	return reportStyles{
		title:      lipgloss.NewStyle().Bold(true),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		label:      lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Width(18),
		value:      lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		barBracket: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		barFill:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		barEmpty:   lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}

// writeReport prints the end-of-run summary: one fill bar per field, the
// depot, the counters, and a conservation check.
func writeReport(w io.Writer, s farm.Summary) {
	st := newReportStyles()
	lines := []string{
		st.title.Render(fmt.Sprintf("Farm run: %d ticks of %s, day %d (%d ticks/day)", s.Elapsed, s.TickDuration, s.Day, s.DayLength)),
		st.header.Render("Fields"),
	}
	for _, f := range s.Fields {
		line := lipgloss.JoinHorizontal(lipgloss.Top,
			st.label.Render(f.Species),
			renderFillBar(f.Level, f.Capacity, barWidth, st),
			st.value.Render(fmt.Sprintf(" %d/%d", f.Level, f.Capacity)),
		)
		if f.Waiting > 0 {
			line += " " + st.warning.Render(fmt.Sprintf("%d waiting", f.Waiting))
		}
		lines = append(lines, line)
	}

	lines = append(lines, st.header.Render("Depot"))
	if s.InDepot() == 0 {
		lines = append(lines, st.value.Render("empty"))
	}
	for _, f := range s.Fields {
		if n := s.Depot[f.Species]; n > 0 {
			lines = append(lines, st.label.Render(f.Species)+st.value.Render(fmt.Sprint(n)))
		}
	}

	m := s.Metrics
	lines = append(lines,
		st.header.Render("Activity"),
		row(st, "deliveries", fmt.Sprintf("%d (%d animals)", m.Deliveries, m.DeliveredAnimals)),
		row(st, "allocations", fmt.Sprintf("%d (%d animals)", m.Allocations, m.AllocatedAnimals)),
		row(st, "stocked", fmt.Sprintf("%d animals in %d visits", m.StockedAnimals, m.StockVisits)),
		row(st, "purchases", fmt.Sprint(m.Purchases)),
		row(st, "buyer wait", fmt.Sprintf("mean %.1f, max %d ticks", m.MeanWaitTicks, m.MaxWaitTicks)),
		row(st, "farmer breaks", fmt.Sprint(m.Breaks)),
		row(st, "on trailers", fmt.Sprint(s.OnTrailers())),
	)
	if u := s.Unaccounted(); u != 0 {
		lines = append(lines, st.warning.Render(fmt.Sprintf("%d animals unaccounted for", u)))
	}
	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// writeRunSummary prints a run read back from the SQLite journal.
func writeRunSummary(w io.Writer, r journal.RunSummary) {
	st := newReportStyles()
	lines := []string{
		st.title.Render("Run " + r.ID),
		row(st, "seed", fmt.Sprint(r.Seed)),
		row(st, "last tick", fmt.Sprint(r.LastElapsed)),
		st.header.Render("Events"),
	}
	for _, kind := range []string{journal.KindDelivery, journal.KindAllocation, journal.KindStock, journal.KindPurchase, journal.KindBreak} {
		kt := r.Kinds[kind]
		lines = append(lines, row(st, kind, fmt.Sprintf("%d events, amount %d", kt.Events, kt.Amount)))
	}
	lines = append(lines, st.header.Render("Purchases"))
	for _, species := range slices.Sorted(maps.Keys(r.PurchasedBySpecies)) {
		lines = append(lines, row(st, species, fmt.Sprint(r.PurchasedBySpecies[species])))
	}
	lines = append(lines, row(st, "buyer wait", fmt.Sprintf("mean %.1f, max %d ticks", r.MeanWaitTicks, r.MaxWaitTicks)))
	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func row(st reportStyles, label, value string) string {
	return st.label.Render(label) + st.value.Render(value)
}

func renderFillBar(level, capacity, width int, st reportStyles) string {
	if width <= 0 || capacity <= 0 {
		return ""
	}
	filled := int(math.Round(float64(width) * float64(level) / float64(capacity)))
	filled = max(0, min(filled, width))
	return lipgloss.JoinHorizontal(lipgloss.Top,
		st.barBracket.Render("["),
		st.barFill.Render(strings.Repeat("=", filled)),
		st.barEmpty.Render(strings.Repeat("-", width-filled)),
		st.barBracket.Render("]"),
	)
}
