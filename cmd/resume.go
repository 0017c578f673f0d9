package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"mechevolve/internal/engine"
	"mechevolve/internal/genome"
	"mechevolve/internal/store"
)

var (
	resumeConfigPath string
	resumeDataDir    string
	resumeHistoryDB  string
	resumeEvaluator  string
	resumeStrategy   string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume a run from its latest checkpoint",
	Long: `Loads the highest-numbered generation snapshot of the given run and
continues the generational loop from it. The checkpointed population was
fully evaluated before it was saved, so no work is repeated.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeConfigPath, "config", "", "Run parameter YAML file")
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	resumeCmd.Flags().StringVar(&resumeHistoryDB, "history-db", "", "SQLite run-history database (empty = disabled)")
	resumeCmd.Flags().StringVar(&resumeEvaluator, "evaluator", "sphere", "Built-in evaluator: sphere, genesum")
	resumeCmd.Flags().StringVar(&resumeStrategy, "strategy", "continuous", "Run variant: continuous, reduction")
	addRunFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	params, err := loadParams(cmd, resumeConfigPath)
	if err != nil {
		return err
	}

	checkpoints, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	cp, err := checkpoints.LoadLatest(id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint for run %s: %w", id, err)
	}

	// The snapshot dictates the chromosome layout; the config file only
	// supplies rates and pinned positions.
	params.Population = len(cp.Population)
	params.Dimension = len(cp.Population[0])
	if err := params.Validate(); err != nil {
		return err
	}

	evaluator, err := evaluatorFor(resumeEvaluator)
	if err != nil {
		return err
	}

	encoding := genome.Real
	var strategy engine.Strategy
	switch resumeStrategy {
	case "continuous":
		strategy = &engine.ContinuousStrategy{Evaluator: evaluator, MaxWorkers: params.MaxWorkers}
	case "reduction":
		encoding = genome.Binary
		strategy = &engine.ReductionStrategy{
			Evaluator:         evaluator,
			MaxWorkers:        params.MaxWorkers,
			SizePenaltyWeight: params.SizePenaltyWeight,
		}
	default:
		return fmt.Errorf("unknown strategy: %s (want continuous or reduction)", resumeStrategy)
	}

	codec, err := genome.New(genome.Options{
		Encoding:      encoding,
		Dimension:     params.Dimension,
		Population:    params.Population,
		MutationRate:  params.MutationRate,
		CrossoverProb: params.CrossoverProb,
		Bounds:        params.Bounds,
		Pinned:        params.PinnedPositions,
		Rand:          rand.New(rand.NewSource(params.Seed)),
	})
	if err != nil {
		return err
	}

	trace, err := store.NewTraceWriter(resumeDataDir, id, true)
	if err != nil {
		return fmt.Errorf("failed to open trace writer: %w", err)
	}
	defer trace.Close()

	hist, err := openHistory(cmd, resumeHistoryDB)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.Close()
	}

	cfg := engine.Config{
		RunID:           id,
		MaxIterations:   params.MaxIterations,
		StartGeneration: cp.Generation + 1,
		Checkpoints:     checkpoints,
		Trace:           trace,
		Report:          printRunResult,
	}
	if hist != nil {
		cfg.Recorder = hist
	}
	if params.EarlyStopWindow > 0 {
		cfg.EarlyStop = engine.NoImprovement(params.EarlyStopWindow)
	}

	eng, err := engine.New(cfg, codec, strategy)
	if err != nil {
		return err
	}

	// The snapshot was taken after ranking, before selection: replay the
	// genetic operators from the saved fitness record, then continue the
	// loop at the next generation index.
	weights := make([]float64, len(cp.Errors))
	for i, e := range cp.Errors {
		if resumeStrategy == "reduction" {
			size := 0.0
			if cp.Aux != nil {
				size = cp.Aux[i]
			} else {
				for _, g := range cp.Population[i] {
					size += g
				}
				size /= float64(len(cp.Population[i]))
			}
			weights[i] = -(e + size*params.SizePenaltyWeight)
		} else {
			weights[i] = -e
		}
	}
	selected, err := codec.Select(genome.Population(cp.Population), weights)
	if err != nil {
		return err
	}
	seed := codec.Mutate(codec.Crossover(selected))

	slog.Info("Resuming run",
		"run_id", id,
		"from_generation", cp.Generation,
		"population", params.Population,
		"dimension", params.Dimension,
		"max_iterations", params.MaxIterations,
	)

	state, err := eng.Run(cmd.Context(), seed)
	if err != nil {
		if state != nil && state.LastCheckpointed >= 0 {
			return fmt.Errorf("run %s failed (resumable from generation %d): %w", id, state.LastCheckpointed, err)
		}
		return fmt.Errorf("run %s failed (resumable from generation %d): %w", id, cp.Generation, err)
	}
	return nil
}
