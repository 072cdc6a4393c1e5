// Package refdata loads physiological reference datasets.
//
// A dataset maps a subject variant ("male", "female") to its reference blood
// volume, cardiac output and compartment records. Volumes are percentages of
// total blood volume; flows are percentages of cardiac output supplied by the
// arterial pool.
package refdata

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/blooddvh/internal/model"
)

// Kind classifies how a compartment routes its outflow.
type Kind string

const (
	// KindPool passes the full cardiac output to DrainsTo.
	KindPool Kind = "pool"
	// KindArterial distributes cardiac output over organs by flow fraction.
	KindArterial Kind = "arterial"
	// KindOrgan receives arterial supply and drains to DrainsTo.
	KindOrgan Kind = "organ"
)

// Record describes one compartment of a variant.
type Record struct {
	Name         string  `toml:"name" yaml:"name"`
	Kind         Kind    `toml:"kind" yaml:"kind"`
	Volume       float64 `toml:"volume" yaml:"volume"`
	Flow         float64 `toml:"flow" yaml:"flow"`
	DrainsTo     string  `toml:"drains_to" yaml:"drains_to"`
	WeibullShape float64 `toml:"weibull_shape" yaml:"weibull_shape"`
}

// Variant is the reference data for one subject sex.
type Variant struct {
	BloodVolume   float64  `toml:"blood_volume" yaml:"blood_volume"`
	CardiacOutput float64  `toml:"cardiac_output" yaml:"cardiac_output"`
	Compartments  []Record `toml:"compartments" yaml:"compartments"`
}

// Dataset holds every variant keyed by lowercase name.
type Dataset struct {
	Variants map[string]Variant
}

//go:embed icrp89.toml
var icrp89 []byte

var loadDefault = sync.OnceValues(func() (Dataset, error) {
	return decodeTOML(icrp89, "icrp89.toml")
})

// Default returns the embedded ICRP-89 style dataset.
func Default() (Dataset, error) {
	return loadDefault()
}

// Load reads a dataset from path. The format follows the extension:
// .toml, .yaml or .yml.
func Load(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, model.IOf("read reference dataset", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return decodeTOML(data, path)
	case ".yaml", ".yml":
		return decodeYAML(data, path)
	default:
		return Dataset{}, model.IOf("read reference dataset", path, fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}
}

func decodeTOML(data []byte, path string) (Dataset, error) {
	variants := map[string]Variant{}
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&variants); err != nil {
		return Dataset{}, model.IOf("decode reference dataset", path, err)
	}
	return newDataset(variants, path)
}

func decodeYAML(data []byte, path string) (Dataset, error) {
	variants := map[string]Variant{}
	if err := yaml.Unmarshal(data, &variants); err != nil {
		return Dataset{}, model.IOf("decode reference dataset", path, err)
	}
	return newDataset(variants, path)
}

func newDataset(variants map[string]Variant, path string) (Dataset, error) {
	if len(variants) == 0 {
		return Dataset{}, model.Malformed(path, "no variants defined")
	}
	ds := Dataset{Variants: make(map[string]Variant, len(variants))}
	for name, v := range variants {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(v.Compartments) == 0 {
			return Dataset{}, model.Malformed(path, "variant %q has no compartments", name)
		}
		ds.Variants[key] = v
	}
	return ds, nil
}

// Variant returns the reference data for sex.
func (d Dataset) Variant(sex string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(sex))
	v, ok := d.Variants[key]
	if !ok {
		return Variant{}, model.Configf("sex", sex, "variant not found (available: %s)", strings.Join(d.Names(), ", "))
	}
	return v, nil
}

// Names returns the variant names in sorted order.
func (d Dataset) Names() []string {
	names := make([]string, 0, len(d.Variants))
	for name := range d.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
