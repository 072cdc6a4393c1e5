// Package bdvh accumulates the dose that particles of an ensemble collect
// while they pass through irradiated compartments.
package bdvh

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/blooddvh/internal/blood"
	"github.com/verte-zerg/blooddvh/internal/metrics"
	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/tdvh"
)

var tracer = otel.Tracer("github.com/verte-zerg/blooddvh/internal/bdvh")

// Option configures an Accumulator.
type Option func(*options)

type options struct {
	stepDose bool
	workers  int
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// WithStepDose keeps the dose of every particle at every step in addition
// to the totals.
func WithStepDose() Option {
	return func(o *options) {
		o.stepDose = true
	}
}

// WithWorkers bounds the number of goroutines evaluating dose.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records dose assignments on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// Accumulator holds the dose collected by each particle of an ensemble.
// Assignments add up; their order does not matter beyond floating point
// rounding. An Accumulator is not safe for concurrent use.
type Accumulator struct {
	ensemble    *blood.Ensemble
	dose        []float64
	steps       [][]float64
	assignments int
	opts        options
}

// New binds an accumulator to e with zero dose for every particle.
func New(e *blood.Ensemble, opts ...Option) (*Accumulator, error) {
	if e == nil {
		return nil, model.Configf("ensemble", nil, "ensemble is required")
	}
	o := options{
		workers: runtime.GOMAXPROCS(0),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	a := &Accumulator{
		ensemble: e,
		dose:     make([]float64, e.Len()),
		opts:     o,
	}
	if o.stepDose {
		a.steps = make([][]float64, e.Len())
		for i := range a.steps {
			a.steps[i] = make([]float64, e.Steps())
		}
	}
	return a, nil
}

// AddDose applies profile to compartment, starting start seconds into the
// trajectories. At every step s a particle spends in compartment it gains
// RateAt(particle, s*dt - start) * dt. Steps before start or after the
// profile ends gain nothing. On error the accumulated dose is unchanged.
func (a *Accumulator) AddDose(ctx context.Context, profile *tdvh.Profile, compartment int, start float64) (err error) {
	if profile == nil {
		return model.Configf("profile", nil, "dose profile is required")
	}
	if names := a.ensemble.Names(); compartment < 0 || (names != nil && compartment >= len(names)) {
		return model.Configf("compartment", compartment, "index out of range")
	}
	if math.IsNaN(start) || math.IsInf(start, 0) {
		return model.Configf("start time", start, "must be a finite number of seconds")
	}

	ctx, span := tracer.Start(ctx, "bdvh.add_dose", trace.WithAttributes(
		attribute.Int("compartment", compartment),
		attribute.Float64("start", start),
		attribute.Float64("profile_duration", profile.Duration()),
	))
	started := time.Now()
	defer func() {
		a.opts.metrics.ObserveDose(time.Since(started), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	n := a.ensemble.Len()
	dt := a.ensemble.StepDuration()
	delta := make([]float64, n)
	var stepDelta [][]float64
	if a.steps != nil {
		stepDelta = make([][]float64, n)
	}

	workers := min(a.opts.workers, n)
	chunk := (n + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for s, c := range a.ensemble.Path(i) {
					if c != compartment {
						continue
					}
					d := profile.RateAt(i, float64(s)*dt-start) * dt
					if d == 0 {
						continue
					}
					delta[i] += d
					if stepDelta != nil {
						if stepDelta[i] == nil {
							stepDelta[i] = make([]float64, len(a.ensemble.Path(i)))
						}
						stepDelta[i][s] += d
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.opts.logger.Error().Err(err).Int("compartment", compartment).Msg("dose assignment failed")
		return err
	}

	touched := 0
	for i, d := range delta {
		if d != 0 {
			touched++
		}
		a.dose[i] += d
		if stepDelta != nil && stepDelta[i] != nil {
			row := a.steps[i]
			for s, v := range stepDelta[i] {
				row[s] += v
			}
		}
	}
	a.assignments++
	a.opts.logger.Debug().
		Int("compartment", compartment).
		Float64("start", start).
		Int("particles_dosed", touched).
		Dur("elapsed", time.Since(started)).
		Msg("applied dose profile")
	return nil
}

// Dose returns a copy of the accumulated dose per particle.
func (a *Accumulator) Dose() []float64 {
	return append([]float64(nil), a.dose...)
}

// StepDose returns a copy of the per-step dose of particle i. It requires
// the accumulator to be created WithStepDose.
func (a *Accumulator) StepDose(i int) ([]float64, error) {
	if a.steps == nil {
		return nil, model.Configf("step dose", nil, "accumulator was created without per-step dose")
	}
	if i < 0 || i >= len(a.steps) {
		return nil, model.Configf("particle", i, "index out of range [0, %d)", len(a.steps))
	}
	return append([]float64(nil), a.steps[i]...), nil
}

// Assignments returns the number of profiles applied so far.
func (a *Accumulator) Assignments() int {
	return a.assignments
}

// Ensemble returns the bound ensemble.
func (a *Accumulator) Ensemble() *blood.Ensemble {
	return a.ensemble
}
