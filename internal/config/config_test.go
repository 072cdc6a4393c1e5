package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/tdvh"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[simulation]
sex = "female"
steps-per-minute = 60
sample-size = 500
seed = 42
generator = "weibull"

[storage]
path = "paths.xlsx"

[report]
bins = 40

[[dose]]
compartment = "liver"
start = 12.5

  [[dose.segments]]
  duration = 10
  rate = 2

  [[dose.segments]]
  duration = 10
  kind = "none"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Simulation.Sex == nil || *cfg.Simulation.Sex != "female" {
		t.Fatalf("unexpected sex %v", cfg.Simulation.Sex)
	}
	if cfg.Simulation.SampleSize == nil || *cfg.Simulation.SampleSize != 500 {
		t.Fatalf("unexpected sample size %v", cfg.Simulation.SampleSize)
	}
	if cfg.Simulation.Seed == nil || *cfg.Simulation.Seed != 42 {
		t.Fatalf("unexpected seed %v", cfg.Simulation.Seed)
	}
	if cfg.Simulation.BloodVolume != nil || cfg.Simulation.Steps != nil {
		t.Fatalf("unset keys must stay nil")
	}
	if cfg.Report.Bins == nil || *cfg.Report.Bins != 40 {
		t.Fatalf("unexpected bins %v", cfg.Report.Bins)
	}

	want := []DoseConfig{{
		Compartment: "liver",
		Start:       12.5,
		Segments: []tdvh.SegmentSpec{
			{Duration: 10, Rate: 2},
			{Duration: 10, Kind: "none"},
		},
	}}
	if diff := cmp.Diff(want, cfg.Dose); diff != "" {
		t.Fatalf("dose plan mismatch (-want +got):\n%s", diff)
	}
	p, err := cfg.Dose[0].Profile()
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Duration() != 20 {
		t.Fatalf("profile duration %v, want 20", p.Duration())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing config should not fail: %v", err)
	}
	if diff := cmp.Diff(FileConfig{}, cfg); diff != "" {
		t.Fatalf("expected empty config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadConfig(writeConfig(t, "[simulation\n")); err == nil {
		t.Fatalf("expected decode error")
	}
	_, err := LoadConfig(writeConfig(t, "[simulation]\nsample_size = 10\n"))
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown key, got %v", err)
	}
}

func TestDoseConfigProfileErrors(t *testing.T) {
	cases := map[string]DoseConfig{
		"no compartment": {Segments: []tdvh.SegmentSpec{{Duration: 1, Rate: 1}}},
		"no segments":    {Compartment: "liver"},
		"bad kind":       {Compartment: "liver", Segments: []tdvh.SegmentSpec{{Duration: 1, Kind: "pulse"}}},
	}
	for name, d := range cases {
		if _, err := d.Profile(); !errors.Is(err, model.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	if got := DefaultConfigPath(); got != filepath.Join("/tmp/cfg", "blooddvh", "config.toml") {
		t.Fatalf("unexpected config path %q", got)
	}
	if got := DefaultDBPath(); got != filepath.Join("/tmp/data", "blooddvh", "blooddvh.db") {
		t.Fatalf("unexpected db path %q", got)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/tester")
	if got := XDGConfigHome(); got != filepath.Join("/home/tester", ".config") {
		t.Fatalf("unexpected fallback %q", got)
	}
}
