// Package tdvh models a piecewise dose-rate profile over time.
//
// A Profile is an append-only list of segments. Each segment lasts a fixed
// number of seconds and carries a DoseRate, or nil for a stretch without
// dose. Segments are laid end to end in insertion order starting at zero.
package tdvh

import (
	"math"
	"sort"

	"github.com/verte-zerg/blooddvh/internal/model"
)

// Point is the argument of a dose-rate evaluation.
type Point struct {
	// Particle is the index of the particle receiving dose.
	Particle int
	// Elapsed is the time in seconds since the segment began.
	Elapsed float64
	// Duration is the segment length in seconds.
	Duration float64
}

// DoseRate yields a dose rate in dose units per second.
type DoseRate interface {
	Rate(p Point) float64
	Kind() string
}

// Segment is one stretch of a profile.
type Segment struct {
	Start    float64
	Duration float64
	// Rate is nil when the segment delivers no dose.
	Rate DoseRate
}

// End returns the time at which the segment stops.
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// Profile is a sequence of dose-rate segments. The zero value is an empty
// profile ready for use.
type Profile struct {
	segments []Segment
	total    float64
}

// Add appends a segment of duration seconds. A nil rate means no dose.
func (p *Profile) Add(duration float64, rate DoseRate) error {
	if !(duration > 0) || math.IsInf(duration, 0) {
		return model.Configf("segment duration", duration, "must be a positive number of seconds")
	}
	p.segments = append(p.segments, Segment{Start: p.total, Duration: duration, Rate: rate})
	p.total += duration
	return nil
}

// Duration returns the total length of the profile in seconds.
func (p *Profile) Duration() float64 {
	return p.total
}

// Segments returns a copy of the segments in order.
func (p *Profile) Segments() []Segment {
	return append([]Segment(nil), p.segments...)
}

// RateAt returns the dose rate for particle at t seconds from the start of
// the profile. The profile does not repeat: t at or past Duration yields
// zero, and so does negative t.
func (p *Profile) RateAt(particle int, t float64) float64 {
	if t < 0 || t >= p.total || math.IsNaN(t) {
		return 0
	}
	i := sort.Search(len(p.segments), func(i int) bool {
		return t < p.segments[i].End()
	})
	if i == len(p.segments) {
		return 0
	}
	seg := p.segments[i]
	if seg.Rate == nil {
		return 0
	}
	return seg.Rate.Rate(Point{Particle: particle, Elapsed: t - seg.Start, Duration: seg.Duration})
}
