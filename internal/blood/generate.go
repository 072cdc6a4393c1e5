package blood

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/verte-zerg/blooddvh/internal/compartment"
	"github.com/verte-zerg/blooddvh/internal/metrics"
	"github.com/verte-zerg/blooddvh/internal/model"
)

var tracer = otel.Tracer("github.com/verte-zerg/blooddvh/internal/blood")

// Generator names used in logs, spans and metrics.
const (
	GeneratorMarkov  = "markov"
	GeneratorWeibull = "weibull"
)

// Option configures a generation run.
type Option func(*options)

type options struct {
	seed    uint64
	seeded  bool
	workers int
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// WithSeed fixes the random seed. Runs with the same seed, model and
// parameters produce identical ensembles regardless of worker count.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithWorkers bounds the number of goroutines sampling particles.
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

// WithMetrics records generation runs on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func buildOptions(opts []Option) options {
	o := options{
		workers: runtime.GOMAXPROCS(0),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.seeded {
		o.seed = rand.Uint64()
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// GenerateMarkov samples sampleSize independent particles for steps steps.
// Each particle starts in a compartment drawn proportionally to volume and
// moves by the model's per-step Markov matrix.
func GenerateMarkov(ctx context.Context, m *compartment.Model, stepDuration float64, sampleSize, steps int, opts ...Option) (*Ensemble, error) {
	return generate(ctx, GeneratorMarkov, m, stepDuration, sampleSize, steps, buildOptions(opts))
}

// GenerateMarkovWeibull samples like GenerateMarkov, except that a particle
// stays in its compartment for a Weibull-distributed number of steps before
// moving along the model's jump matrix.
func GenerateMarkovWeibull(ctx context.Context, m *compartment.Model, stepDuration float64, sampleSize, steps int, opts ...Option) (*Ensemble, error) {
	return generate(ctx, GeneratorWeibull, m, stepDuration, sampleSize, steps, buildOptions(opts))
}

func generate(ctx context.Context, generator string, m *compartment.Model, stepDuration float64, sampleSize, steps int, o options) (e *Ensemble, err error) {
	if m == nil || m.Len() == 0 {
		return nil, model.Configf("model", nil, "compartment model is empty")
	}
	if sampleSize <= 0 {
		return nil, model.Configf("sample size", sampleSize, "must be > 0")
	}
	if steps <= 0 {
		return nil, model.Configf("step count", steps, "must be > 0")
	}
	if !(stepDuration > 0) || math.IsInf(stepDuration, 0) {
		return nil, model.Configf("step duration", stepDuration, "must be > 0 seconds")
	}

	logger := o.logger.With().Str("generator", generator).Logger()
	if spm := m.StepsPerMinute(); spm > 0 && math.Abs(60/spm-stepDuration) > 1e-9 {
		logger.Warn().
			Float64("step_duration", stepDuration).
			Float64("model_step_duration", 60/spm).
			Msg("step duration differs from the model resolution")
	}

	ctx, span := tracer.Start(ctx, "blood.generate", trace.WithAttributes(
		attribute.String("generator", generator),
		attribute.Int("sample_size", sampleSize),
		attribute.Int("steps", steps),
	))
	started := time.Now()
	defer func() {
		o.metrics.ObserveGeneration(generator, sampleSize, time.Since(started), err)
		endSpan(span, err)
	}()

	paths := make([][]int, sampleSize)
	workers := min(o.workers, sampleSize)
	chunk := (sampleSize + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < sampleSize; lo += chunk {
		hi := min(lo+chunk, sampleSize)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				s := newSampler(m, o.seed, i)
				path := make([]int, steps)
				var err error
				if generator == GeneratorWeibull {
					err = s.weibull(path)
				} else {
					err = s.markov(path)
				}
				if err != nil {
					return err
				}
				paths[i] = path
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("generation failed")
		return nil, err
	}

	e = &Ensemble{names: m.Names(), stepDuration: stepDuration, paths: paths}
	logger.Debug().
		Int("particles", sampleSize).
		Int("steps", steps).
		Uint64("seed", o.seed).
		Dur("elapsed", time.Since(started)).
		Msg("generated ensemble")
	return e, nil
}

// sampler draws one particle's trajectory from its own random stream.
type sampler struct {
	model    *compartment.Model
	particle int
	src      rand.Source
	markovs  []*distuv.Categorical
	jumps    []*distuv.Categorical
}

func newSampler(m *compartment.Model, seed uint64, particle int) *sampler {
	return &sampler{
		model:    m,
		particle: particle,
		src:      rand.NewPCG(seed, splitmix(uint64(particle))),
		markovs:  make([]*distuv.Categorical, m.Len()),
		jumps:    make([]*distuv.Categorical, m.Len()),
	}
}

// splitmix decorrelates the stream selector of neighbouring particles.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func (s *sampler) initial() (int, error) {
	c := distuv.NewCategorical(s.model.Volumes(), s.src)
	return s.check(int(c.Rand()), 0)
}

func (s *sampler) markov(path []int) error {
	cur, err := s.initial()
	if err != nil {
		return err
	}
	path[0] = cur
	for step := 1; step < len(path); step++ {
		row := s.markovs[cur]
		if row == nil {
			c := distuv.NewCategorical(s.model.MarkovRow(cur), s.src)
			row = &c
			s.markovs[cur] = row
		}
		if cur, err = s.check(int(row.Rand()), step); err != nil {
			return err
		}
		path[step] = cur
	}
	return nil
}

func (s *sampler) weibull(path []int) error {
	cur, err := s.initial()
	if err != nil {
		return err
	}
	step := 0
	for step < len(path) {
		remaining := len(path) - step
		dwell := s.dwell(cur, remaining)
		for k := 0; k < dwell; k++ {
			path[step+k] = cur
		}
		step += dwell
		if step >= len(path) {
			break
		}
		row := s.jumps[cur]
		if row == nil {
			c := distuv.NewCategorical(s.model.JumpRow(cur), s.src)
			row = &c
			s.jumps[cur] = row
		}
		if cur, err = s.check(int(row.Rand()), step); err != nil {
			return err
		}
	}
	return nil
}

// dwell returns the number of steps to stay in c, at least one and at most
// remaining. Absorbing compartments hold the particle until the end.
func (s *sampler) dwell(c, remaining int) int {
	shape, scale := s.model.Weibull(c)
	if math.IsInf(scale, 1) {
		return remaining
	}
	w := distuv.Weibull{K: shape, Lambda: scale, Src: s.src}
	d := math.Round(w.Rand())
	if d < 1 {
		return 1
	}
	if d >= float64(remaining) {
		return remaining
	}
	return int(d)
}

func (s *sampler) check(c, step int) (int, error) {
	if c < 0 || c >= s.model.Len() {
		return 0, &model.SimulationError{
			Particle: s.particle,
			Step:     step,
			Reason:   "sampled compartment index out of range",
		}
	}
	return c, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
