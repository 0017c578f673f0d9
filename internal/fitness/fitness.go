package fitness

import (
	"context"

	"mechevolve/internal/evalpool"
)

// Evaluator computes a scalar error (lower is better, >= 0) for one
// individual. Implementations wrap the external simulator and must be
// safe for concurrent calls on distinct indices; they are never invoked
// concurrently for the same index.
type Evaluator interface {
	Evaluate(ctx context.Context, index int, genes []float64) (float64, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(ctx context.Context, index int, genes []float64) (float64, error)

func (f Func) Evaluate(ctx context.Context, index int, genes []float64) (float64, error) {
	return f(ctx, index, genes)
}

// Pool returns the evaluator as an evalpool dispatch function.
func Pool(e Evaluator) evalpool.Func {
	return e.Evaluate
}

// GeneSum scores an individual by the sum of its genes. It is the
// engine's smoke-test evaluator: for binary reduction chromosomes the
// error equals the retained structure size, so runs converge toward
// smaller mechanisms without invoking a simulator.
type GeneSum struct{}

func (GeneSum) Evaluate(_ context.Context, _ int, genes []float64) (float64, error) {
	sum := 0.0
	for _, g := range genes {
		sum += g
	}
	return sum, nil
}

// Sphere scores an individual by the sum of squared genes, a standard
// continuous benchmark with its optimum at the origin.
type Sphere struct{}

func (Sphere) Evaluate(_ context.Context, _ int, genes []float64) (float64, error) {
	sum := 0.0
	for _, g := range genes {
		sum += g * g
	}
	return sum, nil
}
