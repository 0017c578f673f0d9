package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mechevolve/internal/config"
	"mechevolve/internal/engine"
	"mechevolve/internal/fitness"
	"mechevolve/internal/history"
)

// loadParams layers run parameters: defaults, then the optional config
// file, then any CLI flags the user set explicitly.
func loadParams(cmd *cobra.Command, configPath string) (config.Params, error) {
	params := config.Defaults()
	if configPath != "" {
		var err error
		params, err = config.Load(configPath)
		if err != nil {
			return params, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("dim") {
		params.Dimension, _ = flags.GetInt("dim")
	}
	if flags.Changed("pop") {
		params.Population, _ = flags.GetInt("pop")
	}
	if flags.Changed("iters") {
		params.MaxIterations, _ = flags.GetInt("iters")
	}
	if flags.Changed("mutation") {
		params.MutationRate, _ = flags.GetFloat64("mutation")
	}
	if flags.Changed("crossover") {
		params.CrossoverProb, _ = flags.GetFloat64("crossover")
	}
	if flags.Changed("workers") {
		params.MaxWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("seed") {
		params.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("early-stop") {
		params.EarlyStopWindow, _ = flags.GetInt("early-stop")
	}
	return params, nil
}

// addRunFlags registers the parameter-override flags shared by the run
// commands.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("dim", 0, "Gene vector length D")
	cmd.Flags().Int("pop", 0, "Population size N")
	cmd.Flags().Int("iters", 0, "Maximum generations")
	cmd.Flags().Float64("mutation", 0, "Per-gene mutation rate")
	cmd.Flags().Float64("crossover", 0, "Per-pair crossover probability")
	cmd.Flags().Int("workers", 0, "Maximum concurrent fitness evaluations")
	cmd.Flags().Int64("seed", 0, "Random seed")
	cmd.Flags().Int("early-stop", 0, "Stop after N generations without improvement (0 = off)")
}

// evaluatorFor maps an evaluator name to a built-in implementation.
// External simulators integrate through the fitness.Evaluator interface
// in Go; the CLI exposes only the built-in benchmarks.
func evaluatorFor(name string) (fitness.Evaluator, error) {
	switch name {
	case "genesum":
		return fitness.GeneSum{}, nil
	case "sphere":
		return fitness.Sphere{}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator: %s (want genesum or sphere)", name)
	}
}

// openHistory opens the optional run-history database. An empty path
// disables history recording.
func openHistory(cmd *cobra.Command, path string) (*history.Store, error) {
	if path == "" {
		return nil, nil
	}
	h, err := history.Open(cmd.Context(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return h, nil
}

// printRunResult reports the run outcome on stdout and the log.
func printRunResult(state *engine.RunState) {
	slog.Info("Run complete",
		"run_id", state.RunID,
		"generations", len(state.History),
		"best_error", state.Best.Error,
		"best_generation", state.Best.Generation,
		"last_checkpointed", state.LastCheckpointed,
	)
	fmt.Printf("Run %s finished: %d generations, best error %.6g (generation %d)\n",
		state.RunID, len(state.History), state.Best.Error, state.Best.Generation)
}
