package compartment

import (
	"math"

	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/refdata"
)

// Build derives a Model from a reference dataset.
//
// Volume fractions are normalized over all compartments and scaled by the
// blood volume. Organ flow fractions are normalized over organs and scaled
// by the cardiac output. Pools and the arterial compartment carry the full
// cardiac output; an organ carries its arterial supply plus whatever drains
// into it. The per-step exit probability is Flow / (Volume * StepsPerMinute).
func Build(ds refdata.Dataset, p Params) (*Model, error) {
	variant, err := ds.Variant(p.Sex)
	if err != nil {
		return nil, err
	}
	bloodVolume, err := positiveOr("blood volume", p.BloodVolume, variant.BloodVolume)
	if err != nil {
		return nil, err
	}
	cardiacOutput, err := positiveOr("cardiac output", p.CardiacOutput, variant.CardiacOutput)
	if err != nil {
		return nil, err
	}
	if !(p.StepsPerMinute > 0) || math.IsInf(p.StepsPerMinute, 0) {
		return nil, model.Configf("steps per minute", p.StepsPerMinute, "must be > 0")
	}

	records := variant.Compartments
	n := len(records)
	index := make(map[string]int, n)
	arterial := -1
	var totalVolume, totalFlow float64
	for i, rec := range records {
		if rec.Name == "" {
			return nil, model.Configf("compartment", i, "name is empty")
		}
		if _, dup := index[rec.Name]; dup {
			return nil, model.Configf("compartment", rec.Name, "duplicate name")
		}
		index[rec.Name] = i
		if rec.Volume < 0 || math.IsNaN(rec.Volume) || math.IsInf(rec.Volume, 0) {
			return nil, model.Configf("volume", rec.Volume, "compartment %q", rec.Name)
		}
		totalVolume += rec.Volume
		switch rec.Kind {
		case refdata.KindArterial:
			if arterial >= 0 {
				return nil, model.Configf("kind", rec.Name, "more than one arterial compartment (first: %q)", records[arterial].Name)
			}
			arterial = i
		case refdata.KindOrgan:
			if rec.Flow < 0 || math.IsNaN(rec.Flow) || math.IsInf(rec.Flow, 0) {
				return nil, model.Configf("flow", rec.Flow, "compartment %q", rec.Name)
			}
			totalFlow += rec.Flow
		case refdata.KindPool:
		default:
			return nil, model.Configf("kind", rec.Kind, "compartment %q has unknown kind", rec.Name)
		}
	}
	if arterial < 0 {
		return nil, model.Configf("kind", nil, "no arterial compartment")
	}
	if totalVolume <= 0 {
		return nil, model.Configf("volume", totalVolume, "total volume must be > 0")
	}
	if totalFlow <= 0 {
		return nil, model.Configf("flow", totalFlow, "total organ flow must be > 0")
	}

	drains := make([]int, n)
	for i, rec := range records {
		drains[i] = -1
		if rec.Kind == refdata.KindArterial {
			continue
		}
		j, ok := index[rec.DrainsTo]
		if !ok {
			return nil, model.Configf("drains_to", rec.DrainsTo, "compartment %q drains to an unknown compartment", rec.Name)
		}
		if j == i {
			return nil, model.Configf("drains_to", rec.DrainsTo, "compartment %q drains to itself", rec.Name)
		}
		drains[i] = j
	}

	supply := make([]float64, n)
	for i, rec := range records {
		if rec.Kind == refdata.KindOrgan {
			supply[i] = rec.Flow / totalFlow * cardiacOutput
		}
	}
	flows, err := outflows(records, drains, supply, cardiacOutput)
	if err != nil {
		return nil, err
	}

	m := &Model{
		compartments:   make([]Compartment, n),
		index:          index,
		markov:         make([][]float64, n),
		jump:           make([][]float64, n),
		stepsPerMinute: p.StepsPerMinute,
	}
	for i, rec := range records {
		volume := rec.Volume / totalVolume * bloodVolume
		if volume <= 0 {
			return nil, model.Configf("volume", rec.Volume, "compartment %q has no volume", rec.Name)
		}
		if flows[i] <= 0 {
			return nil, model.Configf("flow", flows[i], "compartment %q receives no blood flow", rec.Name)
		}
		exit := flows[i] / (volume * p.StepsPerMinute)
		if exit > 1 {
			return nil, model.Configf("steps per minute", p.StepsPerMinute,
				"resolution too coarse for %q: mean transit %.3g s is shorter than one step", rec.Name, 60*volume/flows[i])
		}
		c, err := newCompartment(i, rec.Name, rec.Kind, volume, flows[i], exit, rec.WeibullShape)
		if err != nil {
			return nil, err
		}
		m.compartments[i] = c

		route := make([]float64, n)
		if rec.Kind == refdata.KindArterial {
			for j, s := range supply {
				route[j] = s / cardiacOutput
			}
		} else {
			route[drains[i]] = 1
		}
		m.jump[i] = route

		row := make([]float64, n)
		for j, r := range route {
			row[j] = exit * r
		}
		row[i] = 1 - exit
		m.markov[i] = row
	}
	if err := ValidateStochastic(m.markov); err != nil {
		return nil, err
	}
	return m, nil
}

// outflows returns litres per minute leaving each compartment. Organ
// outflow accumulates inflow from everything draining into it, so chains
// such as spleen -> liver are resolved depth first.
func outflows(records []refdata.Record, drains []int, supply []float64, cardiacOutput float64) ([]float64, error) {
	n := len(records)
	upstream := make([][]int, n)
	for i, j := range drains {
		if j >= 0 {
			upstream[j] = append(upstream[j], i)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, n)
	flows := make([]float64, n)

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return model.Configf("drains_to", records[i].Name, "organ drainage forms a cycle")
		}
		if records[i].Kind != refdata.KindOrgan {
			flows[i] = cardiacOutput
			state[i] = done
			return nil
		}
		state[i] = visiting
		total := supply[i]
		for _, u := range upstream[i] {
			if err := visit(u); err != nil {
				return err
			}
			total += flows[u]
		}
		flows[i] = total
		state[i] = done
		return nil
	}
	for i := range records {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return flows, nil
}

func positiveOr(field string, value, fallback float64) (float64, error) {
	if value == 0 {
		value = fallback
	}
	if !(value > 0) || math.IsInf(value, 0) {
		return 0, model.Configf(field, value, "must be > 0")
	}
	return value, nil
}
