// Package main provides the CLI entrypoint for blooddvh.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/blooddvh/internal/config"
	"github.com/verte-zerg/blooddvh/internal/logging"
)

const (
	defaultSex            = "male"
	defaultStepsPerMinute = 60.0
	defaultSampleSize     = 100
	defaultSteps          = 6000
	defaultGenerator      = "markov"
	defaultTable          = "Sheet1"
	defaultBins           = 50
	defaultLogLevel       = "info"
)

var (
	configPath string
	logLevel   string

	simSex            string
	simBloodVolume    float64
	simCardiacOutput  float64
	simStepsPerMinute float64
	simStepDuration   float64
	simSampleSize     int
	simSteps          int
	simSeed           int64
	simWorkers        int
	simGenerator      string
	simReference      string

	storagePath  string
	storageTable string

	reportBins int

	doseCompartment string
	doseStart       float64
	doseRate        float64
	doseDuration    float64

	transitCompartments []string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "blooddvh",
		Short:         "Blood dose-volume histograms from stochastic circulation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newOrgansCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newTransitCmd())
	rootCmd.AddCommand(newDoseCmd())

	return rootCmd
}

// loadSettings reads the config file and lets it fill every flag the user
// did not set explicitly.
func loadSettings(cmd *cobra.Command) (config.FileConfig, zerolog.Logger, error) {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.FileConfig{}, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}

	sim := fileCfg.Simulation
	applyStringConfig(cmd, "sex", &simSex, sim.Sex)
	applyFloatConfig(cmd, "blood-volume", &simBloodVolume, sim.BloodVolume)
	applyFloatConfig(cmd, "cardiac-output", &simCardiacOutput, sim.CardiacOutput)
	applyFloatConfig(cmd, "steps-per-minute", &simStepsPerMinute, sim.StepsPerMinute)
	applyFloatConfig(cmd, "step-duration", &simStepDuration, sim.StepDuration)
	applyIntConfig(cmd, "sample-size", &simSampleSize, sim.SampleSize)
	applyIntConfig(cmd, "steps", &simSteps, sim.Steps)
	applyInt64Config(cmd, "seed", &simSeed, sim.Seed)
	applyIntConfig(cmd, "workers", &simWorkers, sim.Workers)
	applyStringConfig(cmd, "generator", &simGenerator, sim.Generator)
	applyStringConfig(cmd, "reference", &simReference, sim.Reference)
	applyStringConfig(cmd, "db", &storagePath, fileCfg.Storage.Path)
	applyStringConfig(cmd, "table", &storageTable, fileCfg.Storage.Table)
	applyIntConfig(cmd, "bins", &reportBins, fileCfg.Report.Bins)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return config.FileConfig{}, zerolog.Logger{}, err
	}
	return fileCfg, logging.New(cmd.ErrOrStderr(), level), nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if flagChanged(cmd, name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if flagChanged(cmd, name) {
		return
	}
	*target = *value
}

func applyInt64Config(cmd *cobra.Command, name string, target, value *int64) {
	if value == nil {
		return
	}
	if flagChanged(cmd, name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if flagChanged(cmd, name) {
		return
	}
	*target = *value
}

// flagChanged reports whether the user set name. Flags the command does not
// define count as unchanged.
func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# blooddvh configuration
# Uncomment a value to enable it. CLI flags override config values.

[simulation]
# sex = %q                # Reference variant (male, female)
# blood-volume = 5.3        # Total blood volume in litres (0 = reference value)
# cardiac-output = 6.5      # Cardiac output in litres per minute (0 = reference value)
# steps-per-minute = %.0f    # Time resolution of the transition model
# step-duration = 1.0       # Seconds per trajectory step (0 = 60 / steps-per-minute)
# sample-size = %d         # Number of particles
# steps = %d              # Steps per trajectory
# seed = 42                 # Fixed random seed
# workers = 0               # Sampling goroutines (0 = number of CPUs)
# generator = %q       # markov or weibull
# reference = ""            # Reference dataset (.toml, .yaml); empty uses the built-in ICRP-89 data

[storage]
# path = ""                 # Trajectory store (.db for SQLite, .xlsx for a workbook)
# table = %q           # Table holding the trajectories

[report]
# bins = %d                 # DVH histogram bins

[log]
# level = %q             # debug, info, warn, error

# Dose plan applied by "blooddvh dose". Repeat [[dose]] per assignment.
# [[dose]]
# compartment = "liver"
# start = 0.0
#
#   [[dose.segments]]
#   duration = 10.0
#   rate = 2.0
#
#   [[dose.segments]]
#   duration = 10.0
#   kind = "none"
#
#   [[dose.segments]]
#   duration = 10.0
#   kind = "ramp"
#   from = 5.0
#   to = 0.0
`,
		defaultSex,
		defaultStepsPerMinute,
		defaultSampleSize,
		defaultSteps,
		defaultGenerator,
		defaultTable,
		defaultBins,
		defaultLogLevel,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
