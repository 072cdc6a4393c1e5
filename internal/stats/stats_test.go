package stats

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/verte-zerg/blooddvh/internal/model"
)

func TestSummarize(t *testing.T) {
	got := Summarize([]float64{3, 1, 2, 5, 4})
	want := Summary{Count: 5, Mean: 3, StdDev: math.Sqrt(2), Median: 3, Min: 1, Max: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Summary{}, Summarize(nil)); diff != "" {
		t.Fatalf("empty summary mismatch (-want +got):\n%s", diff)
	}
}

func TestNewHistogram(t *testing.T) {
	h, err := NewHistogram([]float64{4, 0, 2, 1, 3}, 4)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	want := Histogram{Edges: []float64{0, 1, 2, 3, 4}, Counts: []float64{1, 1, 1, 2}}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Fatalf("histogram mismatch (-want +got):\n%s", diff)
	}
	if h.Total() != 5 {
		t.Fatalf("total %v, want 5", h.Total())
	}

	flat, err := NewHistogram([]float64{2, 2, 2}, 2)
	if err != nil {
		t.Fatalf("flat histogram: %v", err)
	}
	if diff := cmp.Diff(Histogram{Edges: []float64{1.5, 2, 2.5}, Counts: []float64{0, 3}}, flat); diff != "" {
		t.Fatalf("flat histogram mismatch (-want +got):\n%s", diff)
	}
}

func TestNewHistogramErrors(t *testing.T) {
	cases := map[string]struct {
		values []float64
		bins   int
	}{
		"no bins":   {[]float64{1}, 0},
		"no values": {nil, 3},
		"nan":       {[]float64{1, math.NaN()}, 3},
		"infinite":  {[]float64{1, math.Inf(1)}, 3},
	}
	for name, tc := range cases {
		if _, err := NewHistogram(tc.values, tc.bins); !errors.Is(err, model.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestCumulativeDVH(t *testing.T) {
	got := CumulativeDVH([]float64{4, 1, 3, 2}, []float64{0, 2, 2.5, 5})
	if diff := cmp.Diff([]float64{1, 0.75, 0.5, 0}, got); diff != "" {
		t.Fatalf("cumulative mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0}, CumulativeDVH(nil, []float64{1, 2})); diff != "" {
		t.Fatalf("empty cumulative mismatch (-want +got):\n%s", diff)
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline([]float64{0, 9}); got != " @" {
		t.Fatalf("unexpected sparkline %q", got)
	}
	if got := Sparkline([]float64{3, 3, 3}); got != "+++" {
		t.Fatalf("unexpected flat sparkline %q", got)
	}
	if got := Sparkline(nil); got != "" {
		t.Fatalf("expected empty sparkline, got %q", got)
	}
}

func TestRenderDVH(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderDVH(&buf, []float64{0, 10, 20, 20, 70}, 7, RenderOptions{}); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Blood DVH", "Particles: 5", "Median dose: 20", "Dose from", "At least"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := lines[len(lines)-1]
	if !strings.HasSuffix(last, "20.00%") {
		t.Fatalf("last bin should hold one of five particles: %q", last)
	}

	if err := RenderDVH(&buf, []float64{1}, 0, RenderOptions{}); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	buf.Reset()
	if err := RenderDVH(&buf, nil, 5, RenderOptions{}); err != nil {
		t.Fatalf("render empty: %v", err)
	}
	if !strings.Contains(buf.String(), "No dose recorded.") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}
}

func TestRenderTransitAndCompartments(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTransit(&buf, []TransitRow{
		{Name: "liver", Runs: 120, Mean: 38.2, StdDev: 37.9, Seconds: 38.2, Expected: 38.5},
	}, RenderOptions{})
	if err != nil {
		t.Fatalf("render transit: %v", err)
	}
	err = RenderCompartments(&buf, []CompartmentRow{
		{Index: 11, Name: "liver", Kind: "organ", Volume: 0.53, Flow: 1.66, ExitProbability: 0.05, MeanTransit: 19.2},
	}, RenderOptions{})
	if err != nil {
		t.Fatalf("render compartments: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Transit times (steps)", "38.20", "Compartments", "Flow (L/min)", "0.05000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
