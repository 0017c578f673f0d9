package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mechevolve/internal/engine"
	"mechevolve/internal/genome"
	"mechevolve/internal/store"
)

var (
	runConfigPath string
	runDataDir    string
	runHistoryDB  string
	runEvaluator  string
	runID         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a continuous parameter optimization",
	Long: `Runs the generational loop over real-valued chromosomes: each gene is a
normalized parameter decoded through its configured bounds. Every generation
is checkpointed before selection, so interrupted runs resume losslessly.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Run parameter YAML file")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	runCmd.Flags().StringVar(&runHistoryDB, "history-db", "", "SQLite run-history database (empty = disabled)")
	runCmd.Flags().StringVar(&runEvaluator, "evaluator", "sphere", "Built-in evaluator: sphere, genesum")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: random)")
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	params, err := loadParams(cmd, runConfigPath)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	evaluator, err := evaluatorFor(runEvaluator)
	if err != nil {
		return err
	}

	id := runID
	if id == "" {
		id = uuid.New().String()
	}

	codec, err := genome.New(genome.Options{
		Encoding:      genome.Real,
		Dimension:     params.Dimension,
		Population:    params.Population,
		MutationRate:  params.MutationRate,
		CrossoverProb: params.CrossoverProb,
		Bounds:        params.Bounds,
		Rand:          rand.New(rand.NewSource(params.Seed)),
	})
	if err != nil {
		return err
	}

	checkpoints, err := store.NewFSStore(runDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	trace, err := store.NewTraceWriter(runDataDir, id, false)
	if err != nil {
		return fmt.Errorf("failed to create trace writer: %w", err)
	}
	defer trace.Close()

	hist, err := openHistory(cmd, runHistoryDB)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.Close()
	}

	cfg := engine.Config{
		RunID:         id,
		MaxIterations: params.MaxIterations,
		Checkpoints:   checkpoints,
		Trace:         trace,
		Report:        printRunResult,
	}
	if hist != nil {
		cfg.Recorder = hist
	}
	if params.EarlyStopWindow > 0 {
		cfg.EarlyStop = engine.NoImprovement(params.EarlyStopWindow)
	}

	strategy := &engine.ContinuousStrategy{Evaluator: evaluator, MaxWorkers: params.MaxWorkers}
	eng, err := engine.New(cfg, codec, strategy)
	if err != nil {
		return err
	}

	slog.Info("Starting run",
		"run_id", id,
		"dimension", params.Dimension,
		"population", params.Population,
		"max_iterations", params.MaxIterations,
		"workers", params.MaxWorkers,
		"evaluator", runEvaluator,
	)

	state, err := eng.Run(cmd.Context(), nil)
	if err != nil {
		if state != nil && state.LastCheckpointed >= 0 {
			return fmt.Errorf("run %s failed (resumable from generation %d): %w", id, state.LastCheckpointed, err)
		}
		return fmt.Errorf("run %s failed: %w", id, err)
	}
	return nil
}
