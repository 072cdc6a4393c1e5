// Package stats contains dose and transit statistics and their text reports.
package stats

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/verte-zerg/blooddvh/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Summary describes a sample of values.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	Min    float64
	Max    float64
}

// Summarize computes population statistics for values. An empty sample
// yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := sortedCopy(values)
	mean, variance := stat.PopMeanVariance(sorted, nil)
	return Summary{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

// Histogram is a differential dose-volume histogram.
type Histogram struct {
	// Edges has one more entry than Counts; bin i covers [Edges[i], Edges[i+1]).
	// The last bin also holds its upper edge.
	Edges  []float64
	Counts []float64
}

// NewHistogram bins values into bins equal-width bins spanning their range.
func NewHistogram(values []float64, bins int) (Histogram, error) {
	if bins <= 0 {
		return Histogram{}, model.Configf("bins", bins, "must be > 0")
	}
	if len(values) == 0 {
		return Histogram{}, model.Configf("values", 0, "histogram needs at least one value")
	}
	sorted := sortedCopy(values)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return Histogram{}, model.Configf("values", nil, "histogram values must be finite")
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	edges := floats.Span(make([]float64, bins+1), lo, hi)
	// The last divider is exclusive for stat.Histogram.
	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)
	return Histogram{Edges: edges, Counts: counts}, nil
}

// Total returns the number of binned values.
func (h Histogram) Total() float64 {
	return floats.Sum(h.Counts)
}

// CumulativeDVH returns, for every level, the fraction of values at or
// above it.
func CumulativeDVH(values []float64, levels []float64) []float64 {
	out := make([]float64, len(levels))
	if len(values) == 0 {
		return out
	}
	sorted := sortedCopy(values)
	n := float64(len(sorted))
	for i, level := range levels {
		below := sort.SearchFloat64s(sorted, level)
		out[i] = float64(len(sorted)-below) / n
	}
	return out
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := floats.Min(values)
	maxVal := floats.Max(values)
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}
