package refdata

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/verte-zerg/blooddvh/internal/model"
)

func TestDefaultDataset(t *testing.T) {
	ds, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if diff := cmp.Diff([]string{"female", "male"}, ds.Names()); diff != "" {
		t.Fatalf("unexpected variants (-want +got):\n%s", diff)
	}
	for _, sex := range ds.Names() {
		v, err := ds.Variant(sex)
		if err != nil {
			t.Fatalf("variant %s: %v", sex, err)
		}
		var volume, flow float64
		for _, rec := range v.Compartments {
			volume += rec.Volume
			flow += rec.Flow
		}
		if math.Abs(volume-100) > 1e-6 {
			t.Fatalf("%s: volume fractions sum to %v", sex, volume)
		}
		if math.Abs(flow-100) > 1e-6 {
			t.Fatalf("%s: flow fractions sum to %v", sex, flow)
		}
	}
}

func TestVariantUnknownSex(t *testing.T) {
	ds, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if _, err := ds.Variant("Male "); err != nil {
		t.Fatalf("expected case-insensitive lookup, got %v", err)
	}
	_, err = ds.Variant("child")
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.yaml")
	data := `
Test:
  blood_volume: 1.0
  cardiac_output: 2.0
  compartments:
    - name: veins
      kind: pool
      volume: 50
      drains_to: arteries
    - name: arteries
      kind: arterial
      volume: 25
    - name: organ
      kind: organ
      volume: 25
      flow: 100
      drains_to: veins
      weibull_shape: 1.5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ds, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	v, err := ds.Variant("test")
	if err != nil {
		t.Fatalf("variant: %v", err)
	}
	want := Variant{
		BloodVolume:   1,
		CardiacOutput: 2,
		Compartments: []Record{
			{Name: "veins", Kind: KindPool, Volume: 50, DrainsTo: "arteries"},
			{Name: "arteries", Kind: KindArterial, Volume: 25},
			{Name: "organ", Kind: KindOrgan, Volume: 25, Flow: 100, DrainsTo: "veins", WeibullShape: 1.5},
		},
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("unexpected variant (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.toml")); !errors.Is(err, model.ErrIO) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected io error wrapping not-exist, got %v", err)
	}

	csvPath := filepath.Join(dir, "ref.csv")
	if err := os.WriteFile(csvPath, []byte("a,b\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(csvPath); !errors.Is(err, model.ErrIO) {
		t.Fatalf("expected io error for unsupported extension, got %v", err)
	}

	emptyPath := filepath.Join(dir, "empty.toml")
	if err := os.WriteFile(emptyPath, []byte("[male]\nblood_volume = 5.0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(emptyPath); !errors.Is(err, model.ErrIO) {
		t.Fatalf("expected io error for variant without compartments, got %v", err)
	}
}
