// Package model defines shared error kinds.
package model

import (
	"errors"
	"fmt"
)

// Error kinds returned across the simulation packages. Check them with errors.Is.
var (
	// ErrConfiguration marks invalid model parameters, unknown variants and
	// non-positive counts or durations.
	ErrConfiguration = errors.New("blooddvh: invalid configuration")

	// ErrIO marks persistence failures and malformed stored tables.
	ErrIO = errors.New("blooddvh: i/o failure")

	// ErrSimulation marks a sampled trajectory that broke a model invariant.
	ErrSimulation = errors.New("blooddvh: simulation failure")
)

// ConfigError describes a single invalid parameter.
type ConfigError struct {
	Field  string
	Reason string
	Value  any
}

func (e *ConfigError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// Configf builds a ConfigError for field with a formatted reason.
func Configf(field string, value any, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...), Value: value}
}

// IOError wraps a persistence failure. The underlying cause stays reachable
// through errors.Is and errors.As.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both ErrIO and the cause.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// IOf wraps err as an IOError. A nil err yields nil.
func IOf(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// Malformed reports a stored table that cannot be decoded.
func Malformed(path, format string, args ...any) error {
	return &IOError{Op: "decode", Path: path, Err: fmt.Errorf(format, args...)}
}

// SimulationError reports a particle whose trajectory left the model.
type SimulationError struct {
	Particle int
	Step     int
	Reason   string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("particle %d step %d: %s", e.Particle, e.Step, e.Reason)
}

// Unwrap lets errors.Is match ErrSimulation.
func (e *SimulationError) Unwrap() error {
	return ErrSimulation
}
