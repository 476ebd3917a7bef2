package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/axialfit/internal/config"
	"github.com/cwbudde/axialfit/internal/experiment"
	"github.com/cwbudde/axialfit/internal/store"
)

var (
	runWorkers  int
	runSerial   bool
	runMaxIter  int
	runStarts   int
	runSeed     uint64
	runNoSave   bool
	runPrintDoc bool
)

var runCmd = &cobra.Command{
	Use:   "run <experiment.yaml>",
	Short: "Run one local L-BFGS-B search",
	Long: `Loads an experiment file, fits the simulated through-focus MTF to the
truth data starting from the configured guess and stores the result
document under the data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExperiment(cmd, args[0], experiment.ModeSingle)
	},
}

var globalCmd = &cobra.Command{
	Use:   "global <experiment.yaml>",
	Short: "Run a multi-start search",
	Long: `Like run, but repeats the local search from random guesses around the
configured one and keeps the iterate with the lowest residual RMS WFE
(or lowest cost when the truth is unknown).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExperiment(cmd, args[0], experiment.ModeGlobal)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, globalCmd} {
		c.Flags().IntVar(&runWorkers, "workers", 0, "Worker goroutines (0 = one less than the CPU count)")
		c.Flags().BoolVar(&runSerial, "serial", false, "Evaluate planes one at a time on a single worker")
		c.Flags().IntVar(&runMaxIter, "max-iter", 0, "Override solver max_iterations")
		c.Flags().BoolVar(&runNoSave, "no-save", false, "Do not store the result document")
		c.Flags().BoolVar(&runPrintDoc, "json", false, "Print the full result document as JSON")
		rootCmd.AddCommand(c)
	}
	globalCmd.Flags().IntVar(&runStarts, "starts", 0, "Override global.starts")
	globalCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Override global.seed")
}

// applyRunFlags copies explicitly set flags over the file values.
func applyRunFlags(cmd *cobra.Command, e *config.Experiment) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		e.Workers = runWorkers
	}
	if flags.Changed("serial") {
		e.Parallel = !runSerial
	}
	if flags.Changed("max-iter") {
		e.Solver.MaxIterations = runMaxIter
	}
	if flags.Lookup("starts") != nil && flags.Changed("starts") {
		e.Global.Starts = runStarts
	}
	if flags.Lookup("seed") != nil && flags.Changed("seed") {
		e.Global.Seed = runSeed
	}
}

func runExperiment(cmd *cobra.Command, path string, mode experiment.Mode) error {
	e, err := config.Load(path)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, e)

	plan, err := e.Prepare()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting fit",
		"experiment", path,
		"mode", mode,
		"terms", len(e.Codex),
		"planes", plan.Context.Planes(),
		"parallel", e.Parallel,
	)

	start := time.Now()
	res, err := experiment.Run(ctx, plan, mode, func(run, iter int, x []float64) {
		slog.Debug("Iteration accepted", "run", run, "iteration", iter, "params", x)
	})
	if err != nil {
		return fmt.Errorf("fit failed: %w", err)
	}

	slog.Info("Fit complete",
		"elapsed", time.Since(start),
		"cost_final", res.CostFinal(),
	)

	id := ""
	if !runNoSave {
		if id, err = saveResult(dataDir, res); err != nil {
			return err
		}
	}

	if runPrintDoc {
		return printDocument(cmd.OutOrStdout(), &store.Record{ID: id, Single: res.Single, Global: res.Global})
	}
	printSummary(cmd.OutOrStdout(), &store.Record{ID: id, Single: res.Single, Global: res.Global})
	return nil
}

// saveResult stores the document and its iteration trace under a new id.
func saveResult(dir string, res *experiment.Result) (string, error) {
	fs, err := store.NewFSStore(dir)
	if err != nil {
		return "", fmt.Errorf("failed to create document store: %w", err)
	}

	id := uuid.New().String()
	rec := &store.Record{ID: id, Single: res.Single, Global: res.Global}
	if err := fs.SaveDocument(id, rec); err != nil {
		return "", fmt.Errorf("failed to save document: %w", err)
	}
	if err := fs.SaveTrace(id, res.Traces); err != nil {
		return "", fmt.Errorf("failed to save trace: %w", err)
	}

	slog.Info("Document saved", "id", id, "dir", dir)
	return id, nil
}

func printDocument(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, rec *store.Record) {
	info := rec.Info()

	if info.ID != "" {
		fmt.Fprintf(w, "Document: %s\n", info.ID)
	}
	fmt.Fprintf(w, "Kind: %s\n", info.Kind)
	fmt.Fprintf(w, "Terms: %v\n", info.Terms)
	fmt.Fprintf(w, "Iterations: %d  Evaluations: %d", info.Iterations, info.Evaluations)
	if info.Kind == store.KindGlobal {
		fmt.Fprintf(w, "  Starts: %d", info.Starts)
	}
	fmt.Fprintln(w)

	var final []float64
	var costFirst, elapsed float64
	var rrFirst *float64
	if rec.Global != nil {
		final, costFirst, rrFirst, elapsed = rec.Global.ResultFinal, rec.Global.CostFirst, rec.Global.RRMSWFEFirst, rec.Global.Time
		fmt.Fprintf(w, "Best: start %d, iteration %d\n", rec.Global.BestRun, rec.Global.BestIter)
	} else {
		final, costFirst, rrFirst, elapsed = rec.Single.ResultFinal, rec.Single.CostFirst, rec.Single.RRMSWFEFirst, rec.Single.Time
	}

	fmt.Fprintf(w, "Cost: %.6g -> %.6g\n", costFirst, info.CostFinal)
	if rrFirst != nil && info.RRMSWFEFinal != nil {
		fmt.Fprintf(w, "Residual RMS WFE: %.6g -> %.6g waves\n", *rrFirst, *info.RRMSWFEFinal)
	}
	fmt.Fprintf(w, "Result: %v\n", final)
	fmt.Fprintf(w, "Time: %.3fs\n", elapsed)
}
