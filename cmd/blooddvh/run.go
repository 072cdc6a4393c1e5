package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/blooddvh/internal/bdvh"
	"github.com/verte-zerg/blooddvh/internal/blood"
	"github.com/verte-zerg/blooddvh/internal/compartment"
	"github.com/verte-zerg/blooddvh/internal/config"
	"github.com/verte-zerg/blooddvh/internal/logging"
	"github.com/verte-zerg/blooddvh/internal/metrics"
	"github.com/verte-zerg/blooddvh/internal/refdata"
	"github.com/verte-zerg/blooddvh/internal/stats"
	"github.com/verte-zerg/blooddvh/internal/store"
	"github.com/verte-zerg/blooddvh/internal/tdvh"
)

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&simSex, "sex", defaultSex, "reference variant (male, female)")
	cmd.Flags().Float64Var(&simBloodVolume, "blood-volume", 0, "total blood volume in litres (0 = reference value)")
	cmd.Flags().Float64Var(&simCardiacOutput, "cardiac-output", 0, "cardiac output in litres per minute (0 = reference value)")
	cmd.Flags().Float64Var(&simStepsPerMinute, "steps-per-minute", defaultStepsPerMinute, "time resolution of the transition model")
	cmd.Flags().StringVar(&simReference, "reference", "", "reference dataset (.toml, .yaml); empty uses the built-in data")
}

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&storagePath, "db", config.DefaultDBPath(), "trajectory store (.db for SQLite, .xlsx for a workbook)")
	cmd.Flags().StringVar(&storageTable, "table", defaultTable, "table holding the trajectories")
}

func newOrgansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organs",
		Short: "List the compartments of the model",
		Args:  cobra.NoArgs,
		RunE:  runOrgansCmd,
	}
	addModelFlags(cmd)
	return cmd
}

func runOrgansCmd(cmd *cobra.Command, _ []string) error {
	if _, _, err := loadSettings(cmd); err != nil {
		return err
	}
	m, err := buildModel()
	if err != nil {
		return err
	}
	rows := make([]stats.CompartmentRow, 0, m.Len())
	for _, c := range m.Compartments() {
		rows = append(rows, stats.CompartmentRow{
			Index:           c.Index,
			Name:            c.Name,
			Kind:            string(c.Kind),
			Volume:          c.Volume,
			Flow:            c.Flow,
			ExitProbability: c.ExitProbability,
			MeanTransit:     c.MeanTransit,
		})
	}
	return stats.RenderCompartments(cmd.OutOrStdout(), rows, renderOptions(cmd))
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate particle trajectories and store them",
		Args:  cobra.NoArgs,
		RunE:  runSimulateCmd,
	}
	addModelFlags(cmd)
	addStorageFlags(cmd)
	cmd.Flags().Float64Var(&simStepDuration, "step-duration", 0, "seconds per step (0 = 60 / steps-per-minute)")
	cmd.Flags().IntVar(&simSampleSize, "sample-size", defaultSampleSize, "number of particles")
	cmd.Flags().IntVar(&simSteps, "steps", defaultSteps, "steps per trajectory")
	cmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (unset draws one)")
	cmd.Flags().IntVar(&simWorkers, "workers", 0, "sampling goroutines (0 = number of CPUs)")
	cmd.Flags().StringVar(&simGenerator, "generator", defaultGenerator, "trajectory generator (markov, weibull)")
	return cmd
}

func runSimulateCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	m, err := buildModel()
	if err != nil {
		return err
	}

	stepDuration := simStepDuration
	if stepDuration == 0 {
		stepDuration = 60 / simStepsPerMinute
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	opts := []blood.Option{
		blood.WithLogger(logger),
		blood.WithMetrics(collector),
	}
	if simWorkers > 0 {
		opts = append(opts, blood.WithWorkers(simWorkers))
	}
	if flagChanged(cmd, "seed") || fileCfg.Simulation.Seed != nil {
		opts = append(opts, blood.WithSeed(uint64(simSeed)))
	}

	generate := blood.GenerateMarkov
	switch strings.ToLower(strings.TrimSpace(simGenerator)) {
	case blood.GeneratorMarkov:
	case blood.GeneratorWeibull:
		generate = blood.GenerateMarkovWeibull
	default:
		return fmt.Errorf("--generator must be %s or %s", blood.GeneratorMarkov, blood.GeneratorWeibull)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := generate(ctx, m, stepDuration, simSampleSize, simSteps, opts...)
	if err != nil {
		return fmt.Errorf("failed to generate trajectories: %w", err)
	}

	st, err := store.OpenPath(storagePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close store: %v\n", cerr)
		}
	}()
	if err := e.Save(ctx, st, storageTable); err != nil {
		return fmt.Errorf("failed to save trajectories: %w", err)
	}
	logger.Info().
		Str("store", storagePath).
		Str("table", storageTable).
		Int("particles", e.Len()).
		Int("steps", e.Steps()).
		Msg("saved trajectories")
	logMetrics(logger, reg)

	return renderTransit(cmd, e, m, nil)
}

func newTransitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transit",
		Short: "Show transit times of stored trajectories",
		Args:  cobra.NoArgs,
		RunE:  runTransitCmd,
	}
	addModelFlags(cmd)
	addStorageFlags(cmd)
	cmd.Flags().StringSliceVar(&transitCompartments, "compartment", nil, "compartments to report (default: all)")
	return cmd
}

func runTransitCmd(cmd *cobra.Command, _ []string) error {
	if _, _, err := loadSettings(cmd); err != nil {
		return err
	}
	m, err := buildModel()
	if err != nil {
		return err
	}
	e, err := loadEnsemble(cmd)
	if err != nil {
		return err
	}
	return renderTransit(cmd, e, m, transitCompartments)
}

func newDoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dose",
		Short: "Apply a dose plan to stored trajectories and show the blood DVH",
		Args:  cobra.NoArgs,
		RunE:  runDoseCmd,
	}
	addStorageFlags(cmd)
	cmd.Flags().IntVar(&reportBins, "bins", defaultBins, "DVH histogram bins")
	cmd.Flags().StringVar(&doseCompartment, "compartment", "", "target compartment of a single constant dose (overrides the config plan)")
	cmd.Flags().Float64Var(&doseStart, "start", 0, "start of the single dose in seconds")
	cmd.Flags().Float64Var(&doseRate, "rate", 1, "dose rate of the single dose per second")
	cmd.Flags().Float64Var(&doseDuration, "duration", 0, "duration of the single dose in seconds")
	return cmd
}

func runDoseCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	plan := fileCfg.Dose
	if doseCompartment != "" {
		plan = []config.DoseConfig{{
			Compartment: doseCompartment,
			Start:       doseStart,
			Segments:    []tdvh.SegmentSpec{{Duration: doseDuration, Rate: doseRate}},
		}}
	}
	if len(plan) == 0 {
		return fmt.Errorf("no dose plan: add [[dose]] entries to %s or pass --compartment and --duration", configPath)
	}

	e, err := loadEnsemble(cmd)
	if err != nil {
		return err
	}
	index := make(map[string]int, len(e.Names()))
	for i, name := range e.Names() {
		index[name] = i
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	acc, err := bdvh.New(e, bdvh.WithLogger(logger), bdvh.WithMetrics(collector))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, d := range plan {
		c, ok := index[d.Compartment]
		if !ok {
			// Plans may also address compartments by index.
			n, err := strconv.Atoi(d.Compartment)
			if err != nil {
				return fmt.Errorf("unknown compartment %q in dose plan", d.Compartment)
			}
			c = n
		}
		profile, err := d.Profile()
		if err != nil {
			return err
		}
		if err := acc.AddDose(ctx, profile, c, d.Start); err != nil {
			return fmt.Errorf("failed to apply dose to %s: %w", d.Compartment, err)
		}
	}
	logMetrics(logger, reg)
	return stats.RenderDVH(cmd.OutOrStdout(), acc.Dose(), reportBins, renderOptions(cmd))
}

func buildModel() (*compartment.Model, error) {
	var ds refdata.Dataset
	var err error
	if simReference != "" {
		ds, err = refdata.Load(simReference)
	} else {
		ds, err = refdata.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	m, err := compartment.Build(ds, compartment.Params{
		Sex:            simSex,
		BloodVolume:    simBloodVolume,
		CardiacOutput:  simCardiacOutput,
		StepsPerMinute: simStepsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build compartment model: %w", err)
	}
	return m, nil
}

func loadEnsemble(cmd *cobra.Command) (*blood.Ensemble, error) {
	st, err := store.OpenPath(storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close store: %v\n", cerr)
		}
	}()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := blood.Load(ctx, st, storageTable)
	if err != nil {
		return nil, fmt.Errorf("failed to load trajectories: %w", err)
	}
	return e, nil
}

func renderTransit(cmd *cobra.Command, e *blood.Ensemble, m *compartment.Model, only []string) error {
	names := e.Names()
	if len(names) == 0 {
		names = m.Names()
	}
	selected := make([]int, 0, len(names))
	if len(only) == 0 {
		for i := range names {
			selected = append(selected, i)
		}
	}
	for _, name := range only {
		i := slices.Index(names, name)
		if i < 0 {
			return fmt.Errorf("unknown compartment %q", name)
		}
		selected = append(selected, i)
	}

	rows := make([]stats.TransitRow, 0, len(selected))
	for _, i := range selected {
		ts, err := e.TransitionTime(i)
		if err != nil {
			return err
		}
		expected := 0.0
		if j, ok := m.Index(names[i]); ok {
			c, err := m.Compartment(j)
			if err != nil {
				return err
			}
			expected = c.MeanTransit
		}
		rows = append(rows, stats.TransitRow{
			Name:     names[i],
			Runs:     ts.Runs,
			Mean:     ts.Mean,
			StdDev:   ts.StdDev,
			Seconds:  ts.MeanSeconds,
			Expected: expected,
		})
	}
	return stats.RenderTransit(cmd.OutOrStdout(), rows, renderOptions(cmd))
}

func renderOptions(cmd *cobra.Command) stats.RenderOptions {
	return stats.RenderOptions{Color: logging.IsTerminal(cmd.OutOrStdout())}
}

// logMetrics writes the counters gathered during the run at debug level.
func logMetrics(logger zerolog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			ev := logger.Debug().Str("metric", mf.GetName())
			for _, lp := range m.GetLabel() {
				ev = ev.Str(lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				ev = ev.Float64("value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				ev = ev.Uint64("count", m.GetHistogram().GetSampleCount()).
					Float64("sum", m.GetHistogram().GetSampleSum())
			}
			ev.Msg("metric")
		}
	}
}
