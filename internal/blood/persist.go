package blood

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/verte-zerg/blooddvh/internal/model"
	"github.com/verte-zerg/blooddvh/internal/store"
)

// Attribute keys written next to a trajectory table.
const (
	attrStepDuration = "step_duration"
	attrCompartments = "compartments"
	attrNamePrefix   = "compartment."
)

// Save writes the ensemble as table name: one column per step labelled by
// its index, one row per particle, with the step duration and compartment
// names kept as table attributes.
func (e *Ensemble) Save(ctx context.Context, st store.TableStore, name string) (err error) {
	ctx, span := tracer.Start(ctx, "blood.save", trace.WithAttributes(
		attribute.String("table", name),
		attribute.Int("particles", e.Len()),
	))
	defer func() { endSpan(span, err) }()

	columns := make([]string, e.Steps())
	for s := range columns {
		columns[s] = strconv.Itoa(s)
	}
	attrs := map[string]string{
		attrStepDuration: strconv.FormatFloat(e.stepDuration, 'g', -1, 64),
	}
	if len(e.names) > 0 {
		attrs[attrCompartments] = strconv.Itoa(len(e.names))
		for i, n := range e.names {
			attrs[attrNamePrefix+strconv.Itoa(i)] = n
		}
	}
	return st.WriteTable(ctx, name, store.Table{
		Columns: columns,
		Rows:    e.paths,
		Attrs:   attrs,
	})
}

// Load reads the ensemble stored as table name. Tables that do not decode
// into a valid ensemble are reported as I/O errors.
func Load(ctx context.Context, st store.TableStore, name string) (e *Ensemble, err error) {
	ctx, span := tracer.Start(ctx, "blood.load", trace.WithAttributes(
		attribute.String("table", name),
	))
	defer func() { endSpan(span, err) }()

	t, err := st.ReadTable(ctx, name)
	if err != nil {
		return nil, err
	}

	raw, ok := t.Attrs[attrStepDuration]
	if !ok {
		return nil, model.Malformed(name, "missing %s attribute", attrStepDuration)
	}
	dt, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, model.Malformed(name, "%s: %v", attrStepDuration, err)
	}

	var names []string
	if raw, ok := t.Attrs[attrCompartments]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, model.Malformed(name, "%s: bad count %q", attrCompartments, raw)
		}
		names = make([]string, n)
		for i := range names {
			key := attrNamePrefix + strconv.Itoa(i)
			v, ok := t.Attrs[key]
			if !ok {
				return nil, model.Malformed(name, "missing %s attribute", key)
			}
			names[i] = v
		}
	}

	e, err = NewEnsemble(names, dt, t.Rows)
	if err != nil {
		var cfg *model.ConfigError
		if errors.As(err, &cfg) {
			return nil, model.Malformed(name, "%s: %s", cfg.Field, cfg.Reason)
		}
		return nil, err
	}
	return e, nil
}
