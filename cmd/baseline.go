package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mechevolve/internal/opt"
)

var (
	baselineEvaluator string
	baselineDim       int
	baselineIters     int
	baselinePop       int
	baselineSeed      int64
	baselineLower     float64
	baselineUpper     float64
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Run an independent optimizer on a built-in evaluator",
	Long: `Runs the mayfly swarm optimizer on one of the built-in benchmark
evaluators. Useful as a cross-check: a genetic run on the same evaluator
and bounds should converge to a comparable error.`,
	RunE: runBaseline,
}

func init() {
	baselineCmd.Flags().StringVar(&baselineEvaluator, "evaluator", "sphere", "Built-in evaluator: sphere, genesum")
	baselineCmd.Flags().IntVar(&baselineDim, "dim", 10, "Problem dimension")
	baselineCmd.Flags().IntVar(&baselineIters, "iters", 200, "Maximum iterations")
	baselineCmd.Flags().IntVar(&baselinePop, "pop", 40, "Population size")
	baselineCmd.Flags().Int64Var(&baselineSeed, "seed", 42, "Random seed")
	baselineCmd.Flags().Float64Var(&baselineLower, "lower", -1, "Lower bound for all dimensions")
	baselineCmd.Flags().Float64Var(&baselineUpper, "upper", 1, "Upper bound for all dimensions")
	rootCmd.AddCommand(baselineCmd)
}

func runBaseline(cmd *cobra.Command, args []string) error {
	if baselineDim <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", baselineDim)
	}
	if baselineLower >= baselineUpper {
		return fmt.Errorf("lower bound %v must be below upper bound %v", baselineLower, baselineUpper)
	}

	evaluator, err := evaluatorFor(baselineEvaluator)
	if err != nil {
		return err
	}

	eval := func(genes []float64) float64 {
		v, err := evaluator.Evaluate(context.Background(), 0, genes)
		if err != nil {
			return 0
		}
		return v
	}

	lower := make([]float64, baselineDim)
	upper := make([]float64, baselineDim)
	for i := range lower {
		lower[i] = baselineLower
		upper[i] = baselineUpper
	}

	slog.Info("Starting baseline optimization",
		"evaluator", baselineEvaluator,
		"dimension", baselineDim,
		"iterations", baselineIters,
		"population", baselinePop,
	)

	optimizer := opt.NewMayfly(baselineIters, baselinePop, baselineSeed)
	position, cost, err := optimizer.Run(eval, lower, upper, baselineDim)
	if err != nil {
		return fmt.Errorf("baseline optimization failed: %w", err)
	}

	fmt.Printf("Baseline (%s, dim %d): error %.6g\n", baselineEvaluator, baselineDim, cost)
	if baselineDim <= 12 {
		fmt.Printf("Position: %v\n", position)
	}
	return nil
}
