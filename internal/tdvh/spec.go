package tdvh

import (
	"math"
	"strings"

	"github.com/verte-zerg/blooddvh/internal/model"
)

// SegmentSpec is the serialized form of a segment as it appears in a dose
// plan. Kind defaults to constant.
type SegmentSpec struct {
	Duration float64   `toml:"duration" yaml:"duration"`
	Kind     string    `toml:"kind,omitempty" yaml:"kind,omitempty"`
	Rate     float64   `toml:"rate,omitempty" yaml:"rate,omitempty"`
	From     float64   `toml:"from,omitempty" yaml:"from,omitempty"`
	To       float64   `toml:"to,omitempty" yaml:"to,omitempty"`
	Values   []float64 `toml:"values,omitempty" yaml:"values,omitempty"`
}

// DoseRate decodes the rate of the segment. KindNone yields nil.
func (s SegmentSpec) DoseRate() (DoseRate, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	switch kind {
	case "", KindConstant:
		if err := checkRate("rate", s.Rate); err != nil {
			return nil, err
		}
		return Constant(s.Rate), nil
	case KindNone:
		return nil, nil
	case KindRamp:
		if err := checkRate("from", s.From); err != nil {
			return nil, err
		}
		if err := checkRate("to", s.To); err != nil {
			return nil, err
		}
		return Ramp{From: s.From, To: s.To}, nil
	case KindVoxels:
		if len(s.Values) == 0 {
			return nil, model.Configf("values", nil, "voxel segment needs at least one value")
		}
		for _, v := range s.Values {
			if err := checkRate("values", v); err != nil {
				return nil, err
			}
		}
		return Voxels{Values: append([]float64(nil), s.Values...)}, nil
	default:
		return nil, model.Configf("kind", s.Kind, "unknown dose-rate kind")
	}
}

func checkRate(field string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Configf(field, v, "dose rate must be a non-negative number")
	}
	return nil
}

// FromSpecs builds a profile from serialized segments.
func FromSpecs(specs []SegmentSpec) (*Profile, error) {
	if len(specs) == 0 {
		return nil, model.Configf("segments", nil, "profile needs at least one segment")
	}
	p := &Profile{}
	for _, s := range specs {
		rate, err := s.DoseRate()
		if err != nil {
			return nil, err
		}
		if err := p.Add(s.Duration, rate); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Specs serializes the profile. Rates of unknown types are reported as an
// error since they cannot be written back.
func (p *Profile) Specs() ([]SegmentSpec, error) {
	out := make([]SegmentSpec, len(p.segments))
	for i, seg := range p.segments {
		spec := SegmentSpec{Duration: seg.Duration}
		switch r := seg.Rate.(type) {
		case nil:
			spec.Kind = KindNone
		case Constant:
			spec.Kind = KindConstant
			spec.Rate = float64(r)
		case Ramp:
			spec.Kind = KindRamp
			spec.From, spec.To = r.From, r.To
		case Voxels:
			spec.Kind = KindVoxels
			spec.Values = append([]float64(nil), r.Values...)
		default:
			return nil, model.Configf("segment", i, "dose-rate kind %q has no serialized form", r.Kind())
		}
		out[i] = spec
	}
	return out, nil
}
