package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mechevolve/internal/engine"
	"mechevolve/internal/genome"
	"mechevolve/internal/prune"
	"mechevolve/internal/store"
)

var (
	reduceConfigPath    string
	reduceDataDir       string
	reduceHistoryDB     string
	reduceEvaluator     string
	reduceRunID         string
	reduceSensPath      string
	reduceDuplicates    string
	reduceSpeciesMatrix string
	reduceRefError      float64
	reduceDryRun        bool
)

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Run a structural reduction with pruning preprocessor",
	Long: `Runs sensitivity-guided pruning to find the most aggressive reaction
pruning within the error budget, synthesizes a seed population from the
surviving species, then evolves binary inclusion chromosomes with a size
penalty steering the search toward small mechanisms.`,
	RunE: runReduction,
}

func init() {
	reduceCmd.Flags().StringVar(&reduceConfigPath, "config", "", "Run parameter YAML file (required)")
	reduceCmd.Flags().StringVar(&reduceDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	reduceCmd.Flags().StringVar(&reduceHistoryDB, "history-db", "", "SQLite run-history database (empty = disabled)")
	reduceCmd.Flags().StringVar(&reduceEvaluator, "evaluator", "genesum", "Built-in evaluator for the GA phase: genesum, sphere")
	reduceCmd.Flags().StringVar(&reduceRunID, "run-id", "", "Run identifier (default: random)")
	reduceCmd.Flags().StringVar(&reduceSensPath, "sensitivities", "", "Per-reaction sensitivity CSV (required)")
	reduceCmd.Flags().StringVar(&reduceDuplicates, "duplicates", "", "Reaction duplicate incidence CSV (required)")
	reduceCmd.Flags().StringVar(&reduceSpeciesMatrix, "species-matrix", "", "Reaction-to-species incidence CSV (required)")
	reduceCmd.Flags().Float64Var(&reduceRefError, "ref-error", 0, "Reference error of the unpruned structure")
	reduceCmd.Flags().BoolVar(&reduceDryRun, "dry-run", false, "Use the built-in stand-in pruning evaluator instead of a simulator")
	addRunFlags(reduceCmd)

	reduceCmd.MarkFlagRequired("config")
	reduceCmd.MarkFlagRequired("sensitivities")
	reduceCmd.MarkFlagRequired("duplicates")
	reduceCmd.MarkFlagRequired("species-matrix")
	rootCmd.AddCommand(reduceCmd)
}

func runReduction(cmd *cobra.Command, args []string) error {
	params, err := loadParams(cmd, reduceConfigPath)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if !reduceDryRun {
		return fmt.Errorf("pruning requires an external simulator; integrate one through the Go API or pass --dry-run for the built-in stand-in")
	}

	evaluator, err := evaluatorFor(reduceEvaluator)
	if err != nil {
		return err
	}

	sensitivities, err := prune.ReadSensitivities(reduceSensPath)
	if err != nil {
		return err
	}
	duplicates, err := prune.ReadMatrix(reduceDuplicates)
	if err != nil {
		return err
	}
	speciesMatrix, err := prune.ReadMatrix(reduceSpeciesMatrix)
	if err != nil {
		return err
	}
	if len(speciesMatrix[0]) != params.Dimension {
		return fmt.Errorf("species incidence has %d columns, config dimension is %d", len(speciesMatrix[0]), params.Dimension)
	}

	id := reduceRunID
	if id == "" {
		id = uuid.New().String()
	}
	rng := rand.New(rand.NewSource(params.Seed))

	// Dry-run stand-in for the simulator: error grows linearly with the
	// excluded reaction fraction, so the search exercises the full
	// accept/reject path without chemistry.
	total := len(sensitivities)
	maskEval := func(_ context.Context, mask []int) (float64, error) {
		kept := 0
		for _, v := range mask {
			kept += v
		}
		excluded := float64(total-kept) / float64(total)
		return reduceRefError + excluded*reduceRefError, nil
	}

	pruneCfg := prune.Config{Step: params.PruneStep, Delta: params.PruneDelta, Ceiling: 0.5}
	result, err := prune.Search(cmd.Context(), sensitivities, duplicates, speciesMatrix, params.AlwaysKeep, reduceRefError, maskEval, pruneCfg)
	if err != nil {
		var exhausted *prune.BudgetExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Errorf("pruning found no rate within budget %v (best error %v); lower --ref-error expectations or raise pruneDelta: %w",
				exhausted.Delta, exhausted.BestError, err)
		}
		return err
	}

	seed, err := prune.SeedPopulation(result.SpeciesMask, params.NonImportant, params.DropCount, params.Population, rng)
	if err != nil {
		return err
	}

	codec, err := genome.New(genome.Options{
		Encoding:      genome.Binary,
		Dimension:     params.Dimension,
		Population:    params.Population,
		MutationRate:  params.MutationRate,
		CrossoverProb: params.CrossoverProb,
		Pinned:        params.PinnedPositions,
		Rand:          rng,
	})
	if err != nil {
		return err
	}

	checkpoints, err := store.NewFSStore(reduceDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	trace, err := store.NewTraceWriter(reduceDataDir, id, false)
	if err != nil {
		return fmt.Errorf("failed to create trace writer: %w", err)
	}
	defer trace.Close()

	hist, err := openHistory(cmd, reduceHistoryDB)
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

	strategy := &engine.ReductionStrategy{
		Evaluator:         evaluator,
		MaxWorkers:        params.MaxWorkers,
		SizePenaltyWeight: params.SizePenaltyWeight,
	}
	eng, err := engine.New(cfg, codec, strategy)
	if err != nil {
		return err
	}

	slog.Info("Starting reduction run",
		"run_id", id,
		"pruning_rate", result.Rate,
		"kept_reactions", countOnes(result.ReactionMask),
		"kept_species", countOnes(result.SpeciesMask),
		"population", params.Population,
		"max_iterations", params.MaxIterations,
	)

	state, err := eng.Run(cmd.Context(), genome.Population(seed))
	if err != nil {
		if state != nil && state.LastCheckpointed >= 0 {
			return fmt.Errorf("run %s failed (resumable from generation %d): %w", id, state.LastCheckpointed, err)
		}
		return fmt.Errorf("run %s failed: %w", id, err)
	}
	return nil
}

func countOnes(mask []int) int {
	n := 0
	for _, v := range mask {
		n += v
	}
	return n
}
