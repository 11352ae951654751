package main

import (
	"fmt"
	"os"

	"patchcert/domain/verdict"
	"patchcert/internal"
	"patchcert/internal/config"
	"patchcert/internal/container"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// defenseFlags are the settings every subcommand can override.
type defenseFlags struct {
	configPath string
	logLevel   string
	model      string
	window     int
	height     int
	width      int
	threshold  float64
	clipBound  float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &defenseFlags{}
	rootCmd := &cobra.Command{
		Use:   "patchcert",
		Short: "Certify and defend patch-based classifiers against adversarial patches",
		Long: `patchcert reads per-cell class evidence produced by a patch-based classifier
(one JSON grid per line) and reports, for each input, whether any single
adversarial patch inside a window could change the prediction.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (overrides PATCHCERT_CONFIG)")
	pf.StringVar(&flags.logLevel, "log-level", "", "ERROR, WARN, INFO, DEBUG or TRACE (overrides LOG_LEVEL)")
	pf.StringVar(&flags.model, "model", "", "adversary model: masking or clipping")
	pf.IntVar(&flags.window, "window", 0, "square window side, in cells")
	pf.IntVar(&flags.height, "window-height", 0, "window height, in cells")
	pf.IntVar(&flags.width, "window-width", 0, "window width, in cells")
	pf.Float64Var(&flags.threshold, "threshold", 0, "masking: abstain when a cell's top score is below this")
	pf.Float64Var(&flags.clipBound, "clip-bound", 0, "clipping: upper bound V on every score")

	rootCmd.AddCommand(
		newWindowCmd(flags),
		newCertifyCmd(flags),
		newPredictCmd(flags),
		newRunsCmd(flags),
		newGenerateCmd(),
		newInspectCmd(),
	)
	return rootCmd
}

// load resolves configuration (.env, file, environment, then flags) and
// builds the container.
func (f *defenseFlags) load(cmd *cobra.Command, extra ...func(*config.Config)) (*container.Container, error) {
	_ = godotenv.Load()
	if f.configPath != "" {
		os.Setenv("PATCHCERT_CONFIG", f.configPath)
	}
	logger := internal.NewDefaultLogger()
	if f.logLevel != "" {
		logger = internal.NewLogger(internal.ParseLogLevel(f.logLevel))
	}

	flags := cmd.Flags()
	overrides := append([]func(*config.Config){func(c *config.Config) {
		d := &c.Defense
		if flags.Changed("model") {
			d.Model = verdict.AdversaryModel(f.model)
		}
		if flags.Changed("window") {
			d.WindowHeight, d.WindowWidth = f.window, f.window
		}
		if flags.Changed("window-height") {
			d.WindowHeight = f.height
		}
		if flags.Changed("window-width") {
			d.WindowWidth = f.width
		}
		if flags.Changed("threshold") {
			d.Threshold = f.threshold
		}
		if flags.Changed("clip-bound") {
			d.ClipBound = f.clipBound
		}
	}}, extra...)

	cfg, err := config.Load(overrides...)
	if err != nil {
		return nil, err
	}
	return container.New(cfg, logger)
}
