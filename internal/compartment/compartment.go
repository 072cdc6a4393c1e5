// Package compartment builds discrete-time transition models of blood
// circulation from physiological reference data.
//
// A Model is immutable after construction and safe for concurrent reads.
// Two views of the same process are exposed:
//
//   - [Model.Markov]: the memoryless per-step transition matrix.
//   - [Model.Jump] with [Model.Weibull]: the routing applied after a dwell
//     whose length follows a per-compartment Weibull distribution.
package compartment

import (
	"math"

	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/refdata"
)

// RowTolerance bounds how far a transition row may sum away from 1.
const RowTolerance = 1e-9

// Compartment is one physiological pool.
type Compartment struct {
	Index int
	Name  string
	Kind  refdata.Kind
	// Volume in litres.
	Volume float64
	// Flow leaving the compartment in litres per minute.
	Flow float64
	// ExitProbability is the per-step probability of leaving.
	ExitProbability float64
	// MeanTransit is the expected residence in steps.
	MeanTransit  float64
	WeibullShape float64
	WeibullScale float64
}

// Params selects the variant and scales the reference data.
type Params struct {
	Sex string
	// BloodVolume in litres. Zero uses the variant's reference value.
	BloodVolume float64
	// CardiacOutput in litres per minute. Zero uses the variant's reference value.
	CardiacOutput float64
	// StepsPerMinute is the time resolution; 60 means one-second steps.
	StepsPerMinute float64
}

// Model is a compartmental transition model.
type Model struct {
	compartments   []Compartment
	index          map[string]int
	markov         [][]float64
	jump           [][]float64
	stepsPerMinute float64
}

// Len returns the number of compartments.
func (m *Model) Len() int {
	return len(m.compartments)
}

// StepsPerMinute returns the resolution the model was built for. Models
// built with FromMatrix report zero.
func (m *Model) StepsPerMinute() float64 {
	return m.stepsPerMinute
}

// Compartment returns the compartment at index i.
func (m *Model) Compartment(i int) (Compartment, error) {
	if i < 0 || i >= len(m.compartments) {
		return Compartment{}, model.Configf("compartment", i, "index out of range [0, %d)", len(m.compartments))
	}
	return m.compartments[i], nil
}

// Compartments returns a copy of all compartments in index order.
func (m *Model) Compartments() []Compartment {
	out := make([]Compartment, len(m.compartments))
	copy(out, m.compartments)
	return out
}

// Index resolves a compartment name.
func (m *Model) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Names returns compartment names in index order.
func (m *Model) Names() []string {
	names := make([]string, len(m.compartments))
	for i, c := range m.compartments {
		names[i] = c.Name
	}
	return names
}

// Volumes returns compartment volumes in index order.
func (m *Model) Volumes() []float64 {
	vols := make([]float64, len(m.compartments))
	for i, c := range m.compartments {
		vols[i] = c.Volume
	}
	return vols
}

// Markov returns a copy of the per-step transition matrix.
func (m *Model) Markov() [][]float64 {
	return cloneMatrix(m.markov)
}

// Jump returns a copy of the routing matrix applied when a particle leaves
// a compartment. Its diagonal is zero; rows of absorbing compartments are zero.
func (m *Model) Jump() [][]float64 {
	return cloneMatrix(m.jump)
}

// MarkovRow returns row i without copying. Callers must not modify it.
func (m *Model) MarkovRow(i int) []float64 {
	return m.markov[i]
}

// JumpRow returns row i of the routing matrix without copying. Callers must
// not modify it.
func (m *Model) JumpRow(i int) []float64 {
	return m.jump[i]
}

// Weibull returns the dwell distribution parameters of compartment i in steps.
// An absorbing compartment has an infinite scale.
func (m *Model) Weibull(i int) (shape, scale float64) {
	c := m.compartments[i]
	return c.WeibullShape, c.WeibullScale
}

// ValidateStochastic checks that matrix is square with non-negative rows
// summing to 1 within RowTolerance.
func ValidateStochastic(matrix [][]float64) error {
	n := len(matrix)
	if n == 0 {
		return model.Configf("transition matrix", nil, "matrix is empty")
	}
	for i, row := range matrix {
		if len(row) != n {
			return model.Configf("transition matrix", len(row), "row %d has %d entries, want %d", i, len(row), n)
		}
		sum := 0.0
		for j, p := range row {
			if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return model.Configf("transition matrix", p, "entry [%d][%d] is not a probability", i, j)
			}
			sum += p
		}
		if math.Abs(sum-1) > RowTolerance {
			return model.Configf("transition matrix", sum, "row %d does not sum to 1", i)
		}
	}
	return nil
}

// FromMatrix builds a model from an explicit per-step transition matrix.
// volumes weight the initial compartment draw. shapes sets the Weibull
// shape per compartment; nil means 1 (exponential dwell).
func FromMatrix(names []string, volumes []float64, matrix [][]float64, shapes []float64) (*Model, error) {
	if err := ValidateStochastic(matrix); err != nil {
		return nil, err
	}
	n := len(matrix)
	if len(names) != n {
		return nil, model.Configf("names", len(names), "want %d names", n)
	}
	if len(volumes) != n {
		return nil, model.Configf("volumes", len(volumes), "want %d volumes", n)
	}
	if shapes != nil && len(shapes) != n {
		return nil, model.Configf("weibull shapes", len(shapes), "want %d shapes", n)
	}
	if err := validateVolumes(volumes); err != nil {
		return nil, err
	}

	m := &Model{
		compartments: make([]Compartment, n),
		index:        make(map[string]int, n),
		markov:       cloneMatrix(matrix),
		jump:         make([][]float64, n),
	}
	for i, name := range names {
		if name == "" {
			return nil, model.Configf("names", i, "compartment name is empty")
		}
		if _, dup := m.index[name]; dup {
			return nil, model.Configf("names", name, "duplicate compartment name")
		}
		m.index[name] = i

		shape := 1.0
		if shapes != nil {
			shape = shapes[i]
		}
		exit := 1 - matrix[i][i]
		if exit < RowTolerance {
			exit = 0
		}
		c, err := newCompartment(i, name, refdata.KindOrgan, volumes[i], 0, exit, shape)
		if err != nil {
			return nil, err
		}
		m.compartments[i] = c

		m.jump[i] = make([]float64, n)
		if exit == 0 {
			continue
		}
		for j, p := range matrix[i] {
			if j != i {
				m.jump[i][j] = p / exit
			}
		}
	}
	return m, nil
}

func newCompartment(i int, name string, kind refdata.Kind, volume, flow, exit, shape float64) (Compartment, error) {
	if shape == 0 {
		shape = 1
	}
	if shape < 0 || math.IsNaN(shape) || math.IsInf(shape, 0) {
		return Compartment{}, model.Configf("weibull_shape", shape, "compartment %q needs a positive shape", name)
	}
	c := Compartment{
		Index:           i,
		Name:            name,
		Kind:            kind,
		Volume:          volume,
		Flow:            flow,
		ExitProbability: exit,
		MeanTransit:     math.Inf(1),
		WeibullShape:    shape,
		WeibullScale:    math.Inf(1),
	}
	if exit > 0 {
		c.MeanTransit = 1 / exit
		c.WeibullScale = c.MeanTransit / math.Gamma(1+1/shape)
	}
	return c, nil
}

func validateVolumes(volumes []float64) error {
	total := 0.0
	for i, v := range volumes {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Configf("volumes", v, "volume %d must be a non-negative number", i)
		}
		total += v
	}
	if total <= 0 {
		return model.Configf("volumes", total, "total volume must be > 0")
	}
	return nil
}

func cloneMatrix(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i, row := range src {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
