package tdvh

// Dose-rate kinds.
const (
	KindNone     = "none"
	KindConstant = "constant"
	KindRamp     = "ramp"
	KindVoxels   = "voxels"
)

// Constant delivers the same rate throughout its segment.
type Constant float64

func (c Constant) Rate(Point) float64 { return float64(c) }
func (Constant) Kind() string { return KindConstant }

// Ramp changes linearly from From at the segment start to To at its end.
type Ramp struct {
	From float64
	To   float64
}

func (r Ramp) Rate(p Point) float64 {
	if p.Duration <= 0 {
		return r.From
	}
	return r.From + (r.To-r.From)*p.Elapsed/p.Duration
}

func (Ramp) Kind() string { return KindRamp }

// Voxels assigns each particle the rate of one voxel of a dose field.
// Particle i samples Values[i mod len(Values)].
type Voxels struct {
	Values []float64
}

func (v Voxels) Rate(p Point) float64 {
	n := len(v.Values)
	if n == 0 {
		return 0
	}
	i := p.Particle % n
	if i < 0 {
		i += n
	}
	return v.Values[i]
}

func (Voxels) Kind() string { return KindVoxels }
