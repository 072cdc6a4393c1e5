// Package blood samples particle trajectories through a compartment model.
//
// An Ensemble is a table of trajectories: one row per particle, one column
// per time step, each cell holding the compartment index the particle
// occupies during that step. Ensembles are produced by [GenerateMarkov] or
// [GenerateMarkovWeibull], persisted with [Ensemble.Save] and restored with
// [Load].
package blood

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/verte-zerg/blooddvh/internal/model"
)

// Ensemble is an immutable set of particle trajectories.
type Ensemble struct {
	names        []string
	stepDuration float64
	paths        [][]int
}

// NewEnsemble validates and wraps paths. names may be nil when the
// compartment labels are unknown; otherwise every cell must index names.
// The ensemble takes ownership of paths.
func NewEnsemble(names []string, stepDuration float64, paths [][]int) (*Ensemble, error) {
	if !(stepDuration > 0) || math.IsInf(stepDuration, 0) {
		return nil, model.Configf("step duration", stepDuration, "must be > 0 seconds")
	}
	if len(paths) == 0 {
		return nil, model.Configf("trajectories", 0, "ensemble needs at least one particle")
	}
	steps := len(paths[0])
	if steps == 0 {
		return nil, model.Configf("trajectories", 0, "ensemble needs at least one step")
	}
	for i, path := range paths {
		if len(path) != steps {
			return nil, model.Configf("trajectories", len(path), "particle %d has %d steps, want %d", i, len(path), steps)
		}
		for s, c := range path {
			if c < 0 || (names != nil && c >= len(names)) {
				return nil, model.Configf("trajectories", c, "particle %d step %d: compartment index out of range", i, s)
			}
		}
	}
	return &Ensemble{
		names:        append([]string(nil), names...),
		stepDuration: stepDuration,
		paths:        paths,
	}, nil
}

// Len returns the number of particles.
func (e *Ensemble) Len() int {
	return len(e.paths)
}

// Steps returns the number of time steps per trajectory.
func (e *Ensemble) Steps() int {
	return len(e.paths[0])
}

// StepDuration returns the duration of one step in seconds.
func (e *Ensemble) StepDuration() float64 {
	return e.stepDuration
}

// Names returns the compartment names, or nil when unknown.
func (e *Ensemble) Names() []string {
	if len(e.names) == 0 {
		return nil
	}
	return append([]string(nil), e.names...)
}

// Path returns the trajectory of particle i. Callers must not modify it.
func (e *Ensemble) Path(i int) []int {
	return e.paths[i]
}

// Table returns a copy of the trajectory table.
func (e *Ensemble) Table() [][]int {
	out := make([][]int, len(e.paths))
	for i, path := range e.paths {
		out[i] = append([]int(nil), path...)
	}
	return out
}

// Residence returns, per particle, the number of steps spent in compartment c.
func (e *Ensemble) Residence(c int) ([]int, error) {
	if err := e.checkCompartment(c); err != nil {
		return nil, err
	}
	out := make([]int, len(e.paths))
	for i, path := range e.paths {
		for _, v := range path {
			if v == c {
				out[i]++
			}
		}
	}
	return out, nil
}

// Run is a stretch of consecutive steps spent in one compartment.
type Run struct {
	Compartment int
	Start       int
	Length      int
}

// Runs splits the trajectory of particle i into runs.
func (e *Ensemble) Runs(i int) []Run {
	path := e.paths[i]
	var runs []Run
	start := 0
	for s := 1; s <= len(path); s++ {
		if s == len(path) || path[s] != path[start] {
			runs = append(runs, Run{Compartment: path[start], Start: start, Length: s - start})
			start = s
		}
	}
	return runs
}

// TransitStats summarizes run lengths in steps.
type TransitStats struct {
	Runs   int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	// MeanSeconds is Mean scaled by the step duration.
	MeanSeconds float64
}

// TransitionTime collects the run lengths of every particle, restricted to
// compartments when any are given, and returns the mean transit time with
// its population standard deviation. Runs cut by the start or end of the
// trajectory are included.
func (e *Ensemble) TransitionTime(compartments ...int) (TransitStats, error) {
	var keep map[int]bool
	if len(compartments) > 0 {
		keep = make(map[int]bool, len(compartments))
		for _, c := range compartments {
			if err := e.checkCompartment(c); err != nil {
				return TransitStats{}, err
			}
			keep[c] = true
		}
	}

	var lengths []float64
	for i := range e.paths {
		for _, run := range e.Runs(i) {
			if keep == nil || keep[run.Compartment] {
				lengths = append(lengths, float64(run.Length))
			}
		}
	}
	if len(lengths) == 0 {
		return TransitStats{}, nil
	}
	mean, variance := stat.PopMeanVariance(lengths, nil)
	return TransitStats{
		Runs:        len(lengths),
		Mean:        mean,
		StdDev:      math.Sqrt(variance),
		Min:         floats.Min(lengths),
		Max:         floats.Max(lengths),
		MeanSeconds: mean * e.stepDuration,
	}, nil
}

func (e *Ensemble) checkCompartment(c int) error {
	if c < 0 || (len(e.names) > 0 && c >= len(e.names)) {
		return model.Configf("compartment", c, "index out of range")
	}
	return nil
}
