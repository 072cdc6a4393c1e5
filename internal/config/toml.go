// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/tdvh"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Simulation SimulationConfig `toml:"simulation"`
	Storage    StorageConfig    `toml:"storage"`
	Report     ReportConfig     `toml:"report"`
	Log        LogConfig        `toml:"log"`
	Dose       []DoseConfig     `toml:"dose"`
}

// SimulationConfig maps model and sampling settings.
type SimulationConfig struct {
	Sex            *string  `toml:"sex"`
	BloodVolume    *float64 `toml:"blood-volume"`
	CardiacOutput  *float64 `toml:"cardiac-output"`
	StepsPerMinute *float64 `toml:"steps-per-minute"`
	StepDuration   *float64 `toml:"step-duration"`
	SampleSize     *int     `toml:"sample-size"`
	Steps          *int     `toml:"steps"`
	Seed           *int64   `toml:"seed"`
	Workers        *int     `toml:"workers"`
	Generator      *string  `toml:"generator"`
	Reference      *string  `toml:"reference"`
}

// StorageConfig maps where trajectory tables are kept.
type StorageConfig struct {
	Path  *string `toml:"path"`
	Table *string `toml:"table"`
}

// ReportConfig maps report settings.
type ReportConfig struct {
	Bins *int `toml:"bins"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
}

// DoseConfig is one dose assignment of the dose plan.
type DoseConfig struct {
	Compartment string             `toml:"compartment"`
	Start       float64            `toml:"start"`
	Segments    []tdvh.SegmentSpec `toml:"segments"`
}

// Profile builds the dose-rate profile of the assignment.
func (d DoseConfig) Profile() (*tdvh.Profile, error) {
	if strings.TrimSpace(d.Compartment) == "" {
		return nil, model.Configf("dose.compartment", d.Compartment, "must name a compartment")
	}
	p, err := tdvh.FromSpecs(d.Segments)
	if err != nil {
		return nil, fmt.Errorf("dose plan for %s: %w", d.Compartment, err)
	}
	return p, nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return FileConfig{}, model.Configf("config", path, "unknown keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}
