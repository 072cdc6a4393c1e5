package stats

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))

// RenderOptions controls report formatting.
type RenderOptions struct {
	// Color styles titles for a terminal.
	Color bool
}

func (o RenderOptions) title(s string) string {
	if !o.Color {
		return s
	}
	return titleStyle.Render(s)
}

// RenderDVH prints a dose summary followed by a differential and cumulative
// dose-volume table over bins equal-width dose bins.
func RenderDVH(w io.Writer, dose []float64, bins int, opts RenderOptions) error {
	if len(dose) == 0 {
		_, err := fmt.Fprintln(w, "No dose recorded.")
		return err
	}
	hist, err := NewHistogram(dose, bins)
	if err != nil {
		return err
	}
	sum := Summarize(dose)
	cumulative := CumulativeDVH(dose, hist.Edges[:bins])

	if _, err := fmt.Fprintln(w, opts.title("Blood DVH")); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Particles: %d\n", sum.Count); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Mean dose: %.4g (std %.4g)\n", sum.Mean, sum.StdDev); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Median dose: %.4g\n", sum.Median); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Range: %.4g .. %.4g\n", sum.Min, sum.Max); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Shape: %s\n", Sparkline(hist.Counts)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}

	headers := []string{"Dose from", "Dose to", "Particles", "Fraction", "At least"}
	rows := make([][]string, 0, bins)
	total := hist.Total()
	for i, count := range hist.Counts {
		rows = append(rows, []string{
			fmt.Sprintf("%.4g", hist.Edges[i]),
			fmt.Sprintf("%.4g", hist.Edges[i+1]),
			fmt.Sprintf("%d", int(count)),
			fmt.Sprintf("%.2f%%", count/total*100),
			fmt.Sprintf("%.2f%%", cumulative[i]*100),
		})
	}
	return writeTable(w, headers, rows, map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true})
}

// TransitRow is one line of a transit-time report.
type TransitRow struct {
	Name   string
	Runs   int
	Mean   float64
	StdDev float64
	// Seconds is Mean converted to seconds.
	Seconds float64
	// Expected is the mean transit the model predicts, in steps.
	Expected float64
}

// RenderTransit prints sampled against expected transit times.
func RenderTransit(w io.Writer, rows []TransitRow, opts RenderOptions) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No transit data.")
		return err
	}
	if _, err := fmt.Fprintln(w, opts.title("Transit times (steps)")); err != nil {
		return err
	}
	headers := []string{"Compartment", "Runs", "Mean", "Std", "Seconds", "Expected"}
	tableRows := make([][]string, 0, len(rows))
	for _, r := range rows {
		tableRows = append(tableRows, []string{
			r.Name,
			fmt.Sprintf("%d", r.Runs),
			fmt.Sprintf("%.2f", r.Mean),
			fmt.Sprintf("%.2f", r.StdDev),
			fmt.Sprintf("%.2f", r.Seconds),
			fmt.Sprintf("%.2f", r.Expected),
		})
	}
	return writeTable(w, headers, tableRows, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true})
}

// CompartmentRow is one line of a compartment listing.
type CompartmentRow struct {
	Index int
	Name  string
	Kind  string
	// Volume in litres.
	Volume float64
	// Flow in litres per minute.
	Flow            float64
	ExitProbability float64
	MeanTransit     float64
}

// RenderCompartments lists the compartments of a model.
func RenderCompartments(w io.Writer, rows []CompartmentRow, opts RenderOptions) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No compartments.")
		return err
	}
	if _, err := fmt.Fprintln(w, opts.title("Compartments")); err != nil {
		return err
	}
	headers := []string{"#", "Name", "Kind", "Volume (L)", "Flow (L/min)", "Exit/step", "Transit (steps)"}
	tableRows := make([][]string, 0, len(rows))
	for _, r := range rows {
		tableRows = append(tableRows, []string{
			fmt.Sprintf("%d", r.Index),
			r.Name,
			r.Kind,
			fmt.Sprintf("%.4f", r.Volume),
			fmt.Sprintf("%.4f", r.Flow),
			fmt.Sprintf("%.5f", r.ExitProbability),
			fmt.Sprintf("%.2f", r.MeanTransit),
		})
	}
	return writeTable(w, headers, tableRows, map[int]bool{0: true, 3: true, 4: true, 5: true, 6: true})
}

func writeTable(w io.Writer, headers []string, rows [][]string, rightAlign map[int]bool) error {
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}
