package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"patchcert/adapters/excel"
	"patchcert/adapters/gridfile"
	"patchcert/adapters/report"
	"patchcert/app"
	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal/batch"
	"patchcert/internal/config"
	"patchcert/internal/errors"
	"patchcert/internal/testkit"
	"patchcert/internal/window"

	"github.com/spf13/cobra"
)

func newWindowCmd(flags *defenseFlags) *cobra.Command {
	var patch, rf, stride int

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Print the window size, in cells, that covers a patch",
		Long: `Compute the side of the square window of feature-map cells that a square
adversarial patch can influence: ceil((patch + receptive_field - 1) / stride).

Without flags the window comes from the configured dataset and network.

Example: patchcert window --patch 32 --rf 17 --stride 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("patch") || cmd.Flags().Changed("rf") {
				cells, err := window.CellsForPatch(patch, rf, stride)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n", grid.Square(cells))
				return nil
			}
			c, err := flags.load(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", c.Window)
			return nil
		},
	}

	cmd.Flags().IntVar(&patch, "patch", 0, "patch side, in pixels")
	cmd.Flags().IntVar(&rf, "rf", 17, "receptive field of one cell, in pixels")
	cmd.Flags().IntVar(&stride, "stride", 8, "stride between cells, in pixels")
	return cmd
}

func newCertifyCmd(flags *defenseFlags) *cobra.Command {
	var (
		workers   int
		stopAfter int
		export    string
		reportOut string
		driver    string
		dsn       string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "certify [grid-file]",
		Short: "Certify every labelled grid in a JSON-lines file",
		Long: `Certify each labelled evidence grid against the configured adversary model and
window, then print a summary. Results can be exported (.xlsx/.csv), rendered as
a report (.md/.html) and stored (sqlite or postgres).

Example: patchcert certify grids.jsonl --model masking --window 6 --export run.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			c, err := flags.load(cmd, func(cfg *config.Config) {
				if fl.Changed("workers") {
					cfg.Batch.Workers = workers
				}
				if fl.Changed("stop-after") {
					cfg.Batch.StopAfter = stopAfter
				}
				if fl.Changed("export") {
					cfg.Export.TablePath = export
				}
				if fl.Changed("report") {
					cfg.Export.ReportPath = reportOut
				}
				if fl.Changed("store") {
					cfg.Store.Driver = driver
				}
				if fl.Changed("dsn") {
					cfg.Store.DSN = dsn
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := c.InitStore(ctx); err != nil {
				return err
			}
			defer c.Shutdown(ctx)

			source, err := gridfile.Open(args[0])
			if err != nil {
				return err
			}
			defer source.Close()

			run, err := c.Runner().Run(ctx, source)
			if err != nil {
				return err
			}

			if path := c.Config.Export.TablePath; path != "" {
				if err := excel.Export(path, run); err != nil {
					return err
				}
			}
			if path := c.Config.Export.ReportPath; path != "" {
				if err := report.Write(path, run); err != nil {
					return err
				}
			}
			if err := c.SaveRun(ctx, run); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run.Summary)
			}
			printSummary(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent certifications (default: number of CPUs)")
	cmd.Flags().IntVar(&stopAfter, "stop-after", 0, "stop after this many vulnerable or certified samples; 0 disables")
	cmd.Flags().StringVar(&export, "export", "", "write per-sample results to .xlsx or .csv")
	cmd.Flags().StringVar(&reportOut, "report", "", "write a .md or .html report")
	cmd.Flags().StringVar(&driver, "store", "", "persist the run: sqlite or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name for --store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(out io.Writer, run *batch.Run) {
	s := run.Summary
	fmt.Fprintf(out, "run %s (%s, window %s)\n", run.ID, run.Model, run.Window)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "samples\t%d\n", s.Samples)
	fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
	for _, status := range verdict.AllStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", status, s.Counts[status])
	}
	fmt.Fprintf(tw, "certified accuracy\t%.4f  [%.4f, %.4f]\n", s.CertifiedAccuracy, s.CertifiedInterval.Low, s.CertifiedInterval.High)
	fmt.Fprintf(tw, "robust accuracy\t%.4f\n", s.RobustAccuracy)
	fmt.Fprintf(tw, "clean accuracy\t%.4f\n", s.CleanAccuracy)
	fmt.Fprintf(tw, "undefended accuracy\t%.4f\n", s.UndefendedAccuracy)
	if run.Stopped {
		fmt.Fprintf(tw, "stopped early\tyes\n")
	}
	tw.Flush()
}

func newPredictCmd(flags *defenseFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "predict [grid-file]",
		Short: "Print the robust prediction for every grid in a JSON-lines file",
		Long: `Predict the class with the highest worst-case support under the configured
adversary model and window. Labels in the file are ignored.

Example: patchcert predict grids.jsonl --model clipping --clip-bound 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.load(cmd)
			if err != nil {
				return err
			}
			source, err := gridfile.Open(args[0])
			if err != nil {
				return err
			}
			defer source.Close()
			return predictAll(cmd.Context(), cmd.OutOrStdout(), c.Service, source)
		},
	}
}

// predictAll prints one row per sample; rejected samples get their error code
// in a trailing column.
func predictAll(ctx context.Context, out io.Writer, service *app.DefenseService, source *gridfile.Reader) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "sample\tpredicted\tclean\tlower")
	for {
		sample, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if sample.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s\n", sample.ID, errors.GetCode(sample.Err))
			continue
		}
		predicted, table, err := service.Predict(sample.Evidence)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s\n", sample.ID, errors.GetCode(err))
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%g\n", sample.ID, predicted, app.CleanPrediction(table), table.Lower[predicted])
	}
	return tw.Flush()
}

func newRunsCmd(flags *defenseFlags) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored runs, or show one run's results",
		Long: `Without arguments, list the most recent runs in the configured store.
With a run ID, print that run's per-sample results, optionally filtered by status.

Example: patchcert runs --store sqlite --dsn runs.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			c, err := flags.load(cmd, func(cfg *config.Config) {
				if v, _ := fl.GetString("store"); fl.Changed("store") {
					cfg.Store.Driver = v
				}
				if v, _ := fl.GetString("dsn"); fl.Changed("dsn") {
					cfg.Store.DSN = v
				}
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.InitStore(ctx); err != nil {
				return err
			}
			if c.Store == nil {
				return fmt.Errorf("no result store configured (set STORE_DRIVER and DATABASE_URL or pass --store and --dsn)")
			}
			defer c.Shutdown(ctx)

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			if len(args) == 0 {
				runs, err := c.Store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "id\tmodel\twindow\tsamples\tcertified\tvulnerable\tincorrect\tstarted")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%d\t%d\t%d\t%s\n", r.ID, r.Model, r.WindowH, r.WindowW,
						r.Samples, r.Certified, r.Vulnerable, r.Incorrect, r.StartedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			}

			id, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}
			if _, err := c.Store.GetRun(ctx, id); err != nil {
				return err
			}
			rows, err := c.Store.ListResults(ctx, id, verdict.Status(status))
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "sample\tlabel\tstatus\tlower\tupper\tcompetitor\tpredicted")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%g\t%g\t%d\t%d\n", r.SampleID, r.Label, r.Status, r.Lower, r.Upper, r.Competitor, r.Predicted)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only show results with this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list; 0 lists all")
	cmd.Flags().String("store", "", "store driver: sqlite or postgres")
	cmd.Flags().String("dsn", "", "data source name for --store")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	cfg := testkit.DefaultGridConfig()

	cmd := &cobra.Command{
		Use:   "generate [output-file]",
		Short: "Write synthetic labelled evidence grids as JSON lines",
		Long: `Generate deterministic synthetic evidence grids, optionally carrying a simulated
patch that pushes a block of cells toward a wrong class. Useful for trying out
certify and predict without a trained network.

Example: patchcert generate grids.jsonl --samples 500 --seed 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := testkit.NewGridGenerator(cfg)
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			w := gridfile.NewWriter(f)
			for _, sample := range gen.Generate() {
				if err := w.Write(sample); err != nil {
					return err
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d samples to %s\n", cfg.Samples, args[0])
			return f.Close()
		},
	}

	cmd.Flags().IntVar(&cfg.Samples, "samples", cfg.Samples, "number of samples")
	cmd.Flags().IntVar(&cfg.Height, "height", cfg.Height, "grid height, in cells")
	cmd.Flags().IntVar(&cfg.Width, "width", cfg.Width, "grid width, in cells")
	cmd.Flags().IntVar(&cfg.Classes, "classes", cfg.Classes, "number of classes")
	cmd.Flags().Float64Var(&cfg.Confidence, "confidence", cfg.Confidence, "probability a cell favors the label")
	cmd.Flags().Float64Var(&cfg.PatchRate, "patch-rate", cfg.PatchRate, "fraction of samples with a simulated patch")
	cmd.Flags().IntVar(&cfg.PatchSize, "patch-size", cfg.PatchSize, "simulated patch side, in cells")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [export-file]",
		Short: "Summarize a run exported with certify --export",
		Long: `Read back a results table written by certify --export and print its verdict
counts. Workbooks (.xlsx) also print their Summary sheet.

Example: patchcert inspect run.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			results, err := excel.ReadTable(path, excel.ResultsSheet)
			if err != nil {
				return err
			}
			counts, err := excel.CountStatuses(results)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "samples\t%d\n", len(results.Rows))
			for _, status := range verdict.AllStatuses {
				fmt.Fprintf(tw, "%s\t%d\n", status, counts[status])
			}
			if strings.EqualFold(filepath.Ext(path), ".xlsx") {
				summary, err := excel.ReadTable(path, excel.SummarySheet)
				if err != nil {
					return err
				}
				for _, row := range summary.Rows {
					if len(row) == 2 {
						fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
					}
				}
			}
			return tw.Flush()
		},
	}
}
