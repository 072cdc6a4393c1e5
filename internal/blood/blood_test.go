package blood

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/verte-zerg/blooddvh/internal/compartment"
	"github.com/verte-zerg/blooddvh/internal/metrics"
	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/refdata"
	"github.com/verte-zerg/blooddvh/internal/store"
)

func twoState(t *testing.T, shapes []float64) *compartment.Model {
	t.Helper()
	m, err := compartment.FromMatrix(
		[]string{"a", "b"},
		[]float64{1, 0},
		[][]float64{{0.9, 0.1}, {0.2, 0.8}},
		shapes,
	)
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	return m
}

func maleModel(t *testing.T) *compartment.Model {
	t.Helper()
	ds, err := refdata.Default()
	if err != nil {
		t.Fatalf("load reference data: %v", err)
	}
	m, err := compartment.Build(ds, compartment.Params{Sex: "male", StepsPerMinute: 60})
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	return m
}

func TestGenerateMarkovHittingTime(t *testing.T) {
	m := twoState(t, nil)
	e, err := GenerateMarkov(context.Background(), m, 1, 1000, 100, WithSeed(42))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if e.Len() != 1000 || e.Steps() != 100 {
		t.Fatalf("unexpected shape %dx%d", e.Len(), e.Steps())
	}

	total, hits := 0, 0
	for i := 0; i < e.Len(); i++ {
		path := e.Path(i)
		if path[0] != 0 {
			t.Fatalf("particle %d starts in %d, want 0", i, path[0])
		}
		for s, c := range path {
			if c == 1 {
				total += s
				hits++
				break
			}
		}
	}
	// P(no hit in 100 steps) = 0.9^99, so nearly every particle hits.
	if hits < 990 {
		t.Fatalf("only %d particles reached compartment 1", hits)
	}
	mean := float64(total) / float64(hits)
	if math.Abs(mean-10) > 1.5 {
		t.Fatalf("mean hitting time %.2f, want about 10", mean)
	}
}

func TestGenerateMarkovTransitMatchesExitProbability(t *testing.T) {
	m := twoState(t, nil)
	e, err := GenerateMarkov(context.Background(), m, 0.5, 400, 1000, WithSeed(7))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a, err := e.TransitionTime(0)
	if err != nil {
		t.Fatalf("transition time: %v", err)
	}
	if math.Abs(a.Mean-10) > 0.6 {
		t.Fatalf("compartment a transit %.2f steps, want about 10", a.Mean)
	}
	if math.Abs(a.MeanSeconds-a.Mean*0.5) > 1e-12 {
		t.Fatalf("mean seconds %.3f not scaled by step duration", a.MeanSeconds)
	}
	b, err := e.TransitionTime(1)
	if err != nil {
		t.Fatalf("transition time: %v", err)
	}
	if math.Abs(b.Mean-5) > 0.4 {
		t.Fatalf("compartment b transit %.2f steps, want about 5", b.Mean)
	}
}

func TestGenerateMarkovWeibullDwell(t *testing.T) {
	m := twoState(t, []float64{2, 2})
	e, err := GenerateMarkovWeibull(context.Background(), m, 1, 200, 1000, WithSeed(3))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i := 0; i < e.Len(); i++ {
		runs := e.Runs(i)
		for k := 1; k < len(runs); k++ {
			if runs[k].Compartment == runs[k-1].Compartment {
				t.Fatalf("particle %d: consecutive runs in compartment %d", i, runs[k].Compartment)
			}
		}
	}
	a, err := e.TransitionTime(0)
	if err != nil {
		t.Fatalf("transition time: %v", err)
	}
	if math.Abs(a.Mean-10) > 0.5 {
		t.Fatalf("weibull dwell in a %.2f steps, want about 10", a.Mean)
	}
	// Shape 2 is far less dispersed than the geometric dwell of the Markov chain.
	if a.StdDev > 7 {
		t.Fatalf("weibull dwell spread %.2f too wide for shape 2", a.StdDev)
	}
}

func TestGenerateIndicesInRange(t *testing.T) {
	m := maleModel(t)
	for _, gen := range []func(context.Context, *compartment.Model, float64, int, int, ...Option) (*Ensemble, error){
		GenerateMarkov, GenerateMarkovWeibull,
	} {
		e, err := gen(context.Background(), m, 1, 200, 300, WithSeed(11), WithWorkers(3))
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if diff := cmp.Diff(m.Names(), e.Names()); diff != "" {
			t.Fatalf("names mismatch (-want +got):\n%s", diff)
		}
		for i := 0; i < e.Len(); i++ {
			for s, c := range e.Path(i) {
				if c < 0 || c >= m.Len() {
					t.Fatalf("particle %d step %d: index %d out of range", i, s, c)
				}
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	m := maleModel(t)
	ctx := context.Background()
	for _, name := range []string{GeneratorMarkov, GeneratorWeibull} {
		gen := GenerateMarkov
		if name == GeneratorWeibull {
			gen = GenerateMarkovWeibull
		}
		first, err := gen(ctx, m, 1, 64, 120, WithSeed(99), WithWorkers(1))
		if err != nil {
			t.Fatalf("%s: generate: %v", name, err)
		}
		second, err := gen(ctx, m, 1, 64, 120, WithSeed(99), WithWorkers(8))
		if err != nil {
			t.Fatalf("%s: generate: %v", name, err)
		}
		if diff := cmp.Diff(first.Table(), second.Table()); diff != "" {
			t.Fatalf("%s: same seed differs across worker counts (-1 +8):\n%s", name, diff)
		}
		other, err := gen(ctx, m, 1, 64, 120, WithSeed(100))
		if err != nil {
			t.Fatalf("%s: generate: %v", name, err)
		}
		if cmp.Equal(first.Table(), other.Table()) {
			t.Fatalf("%s: different seeds produced identical ensembles", name)
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	m := twoState(t, nil)
	ctx := context.Background()
	cases := []struct {
		name  string
		model *compartment.Model
		dt    float64
		size  int
		steps int
	}{
		{"nil model", nil, 1, 10, 10},
		{"zero sample", m, 1, 0, 10},
		{"zero steps", m, 1, 10, 0},
		{"zero duration", m, 0, 10, 10},
		{"nan duration", m, math.NaN(), 10, 10},
		{"infinite duration", m, math.Inf(1), 10, 10},
	}
	for _, tc := range cases {
		e, err := GenerateMarkov(ctx, tc.model, tc.dt, tc.size, tc.steps)
		if !errors.Is(err, model.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", tc.name, err)
		}
		if e != nil {
			t.Fatalf("%s: expected no ensemble", tc.name)
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	e, err := GenerateMarkovWeibull(cancelled, m, 1, 10, 10, WithSeed(1))
	if !errors.Is(err, context.Canceled) || e != nil {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestGenerateRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if _, err := GenerateMarkov(context.Background(), twoState(t, nil), 1, 50, 10, WithSeed(1), WithMetrics(c)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	expected := `
# HELP blooddvh_particles_generated_total Particle trajectories produced by successful generation runs.
# TYPE blooddvh_particles_generated_total counter
blooddvh_particles_generated_total{generator="markov"} 50
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "blooddvh_particles_generated_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestTransitionTimeAndResidence(t *testing.T) {
	e, err := NewEnsemble([]string{"a", "b", "c"}, 2, [][]int{
		{0, 0, 1, 1, 1, 0},
		{2, 2, 2, 2, 2, 2},
	})
	if err != nil {
		t.Fatalf("new ensemble: %v", err)
	}

	want := []Run{{0, 0, 2}, {1, 2, 3}, {0, 5, 1}}
	if diff := cmp.Diff(want, e.Runs(0)); diff != "" {
		t.Fatalf("runs mismatch (-want +got):\n%s", diff)
	}

	a, err := e.TransitionTime(0)
	if err != nil {
		t.Fatalf("transition time: %v", err)
	}
	if diff := cmp.Diff(TransitStats{Runs: 2, Mean: 1.5, StdDev: 0.5, Min: 1, Max: 2, MeanSeconds: 3}, a); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	all, err := e.TransitionTime()
	if err != nil {
		t.Fatalf("transition time: %v", err)
	}
	if all.Runs != 4 || all.Mean != 3 || math.Abs(all.StdDev-math.Sqrt(3.5)) > 1e-12 {
		t.Fatalf("unexpected pooled stats %+v", all)
	}

	res, err := e.Residence(2)
	if err != nil {
		t.Fatalf("residence: %v", err)
	}
	if diff := cmp.Diff([]int{0, 6}, res); diff != "" {
		t.Fatalf("residence mismatch (-want +got):\n%s", diff)
	}

	if _, err := e.TransitionTime(3); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := e.Residence(-1); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewEnsembleErrors(t *testing.T) {
	cases := map[string][][]int{
		"empty":        nil,
		"no steps":     {{}},
		"ragged":       {{0, 1}, {0}},
		"out of range": {{0, 2}},
		"negative":     {{-1, 0}},
	}
	for name, paths := range cases {
		if _, err := NewEnsemble([]string{"a", "b"}, 1, paths); !errors.Is(err, model.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, err := GenerateMarkovWeibull(ctx, maleModel(t), 1, 20, 30, WithSeed(5))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	dir := t.TempDir()
	for _, path := range []string{filepath.Join(dir, "paths.db"), filepath.Join(dir, "Particle_Path.xlsx")} {
		st, err := store.OpenPath(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		if err := e.Save(ctx, st, "Sheet1"); err != nil {
			t.Fatalf("save %s: %v", path, err)
		}
		got, err := Load(ctx, st, "Sheet1")
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		if diff := cmp.Diff(e.Table(), got.Table()); diff != "" {
			t.Fatalf("%s: table mismatch (-want +got):\n%s", path, diff)
		}
		if diff := cmp.Diff(e.Names(), got.Names()); diff != "" {
			t.Fatalf("%s: names mismatch (-want +got):\n%s", path, diff)
		}
		if got.StepDuration() != 1 {
			t.Fatalf("%s: step duration %v", path, got.StepDuration())
		}
		_ = st.Close()
	}
}

func TestLoadMalformed(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "paths.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	tables := map[string]store.Table{
		"no duration": {
			Columns: []string{"0"},
			Rows:    [][]int{{0}},
		},
		"bad duration": {
			Columns: []string{"0"},
			Rows:    [][]int{{0}},
			Attrs:   map[string]string{attrStepDuration: "fast"},
		},
		"index out of range": {
			Columns: []string{"0", "1"},
			Rows:    [][]int{{0, 4}},
			Attrs:   map[string]string{attrStepDuration: "1", attrCompartments: "1", attrNamePrefix + "0": "brain"},
		},
		"missing name": {
			Columns: []string{"0"},
			Rows:    [][]int{{0}},
			Attrs:   map[string]string{attrStepDuration: "1", attrCompartments: "2", attrNamePrefix + "0": "brain"},
		},
	}
	for name, table := range tables {
		if err := st.WriteTable(ctx, name, table); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		if _, err := Load(ctx, st, name); !errors.Is(err, model.ErrIO) {
			t.Fatalf("%s: expected io error, got %v", name, err)
		}
	}

	if _, err := Load(ctx, st, "absent"); !errors.Is(err, store.ErrTableNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
