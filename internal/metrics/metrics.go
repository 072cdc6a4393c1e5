// Package metrics exposes prometheus collectors for trajectory generation and
// dose accumulation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "blooddvh"

// Collector groups the simulation instruments. A nil *Collector records nothing.
type Collector struct {
	particles   *prometheus.CounterVec
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	assignments prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		particles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "particles_generated_total",
			Help:      "Particle trajectories produced by successful generation runs.",
		}, []string{"generator"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Simulation runs by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of simulation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dose_assignments_total",
			Help:      "Dose profiles applied to an ensemble.",
		}),
	}
	for _, col := range []prometheus.Collector{c.particles, c.runs, c.duration, c.assignments} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveGeneration records one generation run. Particles only count when
// err is nil since failed runs return no ensemble.
func (c *Collector) ObserveGeneration(generator string, particles int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	op := "generate_" + generator
	c.runs.WithLabelValues(op, outcome(err)).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err == nil {
		c.particles.WithLabelValues(generator).Add(float64(particles))
	}
}

// ObserveDose records one dose assignment.
func (c *Collector) ObserveDose(elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues("add_dose", outcome(err)).Inc()
	c.duration.WithLabelValues("add_dose").Observe(elapsed.Seconds())
	if err == nil {
		c.assignments.Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
