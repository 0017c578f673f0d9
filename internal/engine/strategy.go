package engine

import (
	"context"

	"mechevolve/internal/evalpool"
	"mechevolve/internal/fitness"
	"mechevolve/internal/genome"
)

// Ranking is the outcome of evaluating one generation.
type Ranking struct {
	// Weights are the selection weights, one per individual, higher is
	// better. The engine negates errors into weights so rank-maximizing
	// selection minimizes error.
	Weights []float64

	// Recorded are the per-individual errors persisted to checkpoints.
	// For reduction runs this is the raw simulator error, without the
	// size penalty folded into Weights.
	Recorded []float64

	// Aux is an optional auxiliary scalar per individual, persisted as
	// a trailing checkpoint column. Nil when the strategy has none.
	Aux []float64
}

// Strategy is the problem-variant hook of the generational loop: it owns
// ranking and the shape of per-individual extras, while the engine owns
// the loop, records, and checkpoints. Two variants exist: continuous
// parameter optimization and structural reduction.
type Strategy interface {
	// Rank evaluates the population and produces the generation's
	// ranking. An evaluation failure is fatal for the run and must be
	// returned, never substituted with a default error value.
	Rank(ctx context.Context, pop genome.Population) (*Ranking, error)

	// AuxColumn names the auxiliary checkpoint column, or "" if the
	// strategy records none.
	AuxColumn() string
}

// ContinuousStrategy ranks individuals by raw evaluator error. Used for
// rate-constant optimization, where genes decode to physical parameter
// values.
type ContinuousStrategy struct {
	Evaluator  fitness.Evaluator
	MaxWorkers int
}

func (s *ContinuousStrategy) Rank(ctx context.Context, pop genome.Population) (*Ranking, error) {
	errs, err := evalpool.Evaluate(ctx, pop, fitness.Pool(s.Evaluator), s.MaxWorkers)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, len(errs))
	for i, e := range errs {
		weights[i] = -e
	}
	return &Ranking{Weights: weights, Recorded: errs}, nil
}

func (s *ContinuousStrategy) AuxColumn() string { return "" }

// ReductionStrategy ranks binary inclusion chromosomes by evaluator
// error plus a size penalty, steering the search toward small surviving
// structures. The raw error and the normalized size are recorded
// separately; only the penalized sum drives selection.
type ReductionStrategy struct {
	Evaluator  fitness.Evaluator
	MaxWorkers int

	// SizePenaltyWeight scales the retained-size fraction added to the
	// error before ranking.
	SizePenaltyWeight float64
}

func (s *ReductionStrategy) Rank(ctx context.Context, pop genome.Population) (*Ranking, error) {
	errs, err := evalpool.Evaluate(ctx, pop, fitness.Pool(s.Evaluator), s.MaxWorkers)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, len(errs))
	sizes := make([]float64, len(errs))
	for i, genes := range pop {
		kept := 0.0
		for _, g := range genes {
			kept += g
		}
		sizes[i] = kept / float64(len(genes))
		weights[i] = -(errs[i] + sizes[i]*s.SizePenaltyWeight)
	}
	return &Ranking{Weights: weights, Recorded: errs, Aux: sizes}, nil
}

func (s *ReductionStrategy) AuxColumn() string { return "Size" }
