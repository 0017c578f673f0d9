// Package prune implements the sensitivity-guided structural reduction
// preprocessor: it searches for the most aggressive fractional pruning
// of reactions that keeps the re-evaluated error within a budget above
// the unpruned reference, then synthesizes a seed population from the
// surviving species.
package prune

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
)

// EvalFunc evaluates the masked structure described by a reaction
// inclusion mask and returns its scalar error. It wraps the external
// simulator.
type EvalFunc func(ctx context.Context, reactionMask []int) (float64, error)

// Config tunes the pruning search.
type Config struct {
	// Step is the pruning-rate increment per iteration.
	Step float64

	// Delta is the error budget above the reference error.
	Delta float64

	// Ceiling is the hard upper bound on the pruning rate. Candidates
	// at or above it are evaluated but never accepted.
	Ceiling float64
}

// DefaultConfig returns the reference tuning: 0.1 rate steps up to the
// 0.5 ceiling.
func DefaultConfig(delta float64) Config {
	return Config{Step: 0.1, Delta: delta, Ceiling: 0.5}
}

// Attempt records one evaluated candidate mask.
type Attempt struct {
	Rate  float64
	Mask  []int
	Error float64
}

// Result is the accepted pruning outcome.
type Result struct {
	// Rate is the accepted pruning rate, the most aggressive one whose
	// error stayed within budget.
	Rate float64

	// ReactionMask is the accepted reaction inclusion mask (1 = kept).
	ReactionMask []int

	// SpeciesMask is the species inclusion mask derived from
	// ReactionMask, with always-keep positions forced to 1.
	SpeciesMask []int

	// ReferenceError is the unpruned structure's error.
	ReferenceError float64

	// Attempts caches every evaluated candidate, in search order.
	Attempts []Attempt
}

// BudgetExhaustedError reports a search in which no pruning rate below
// the ceiling satisfied the error budget; the structure stays unpruned.
type BudgetExhaustedError struct {
	BestRate  float64
	BestError float64
	Delta     float64
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("no pruning rate within error budget %v (best rate %v, error %v)",
		e.Delta, e.BestRate, e.BestError)
}

func (e *BudgetExhaustedError) Is(target error) bool {
	_, ok := target.(*BudgetExhaustedError)
	return ok
}

// Search runs the pruning loop. sensitivities holds one scalar per
// reaction; duplicates is the reaction-to-dependent-reaction 0/1
// incidence (R x R); species is the reaction-to-species 0/1 incidence
// (R x S); alwaysKeep is a 0/1 vector over species forced into the
// final mask (e.g. inert species).
//
// Starting at one step, the search excludes the floor(rate*R) least
// sensitive reactions, propagates the exclusion through duplicates,
// and evaluates the candidate. The previous mask is kept at the first
// budget violation; candidates at or above the ceiling are evaluated
// but not accepted, so the loop runs at most ceiling/step iterations.
func Search(ctx context.Context, sensitivities []float64, duplicates, species [][]int, alwaysKeep []int, referenceError float64, eval EvalFunc, cfg Config) (*Result, error) {
	r := len(sensitivities)
	if r == 0 {
		return nil, fmt.Errorf("sensitivity profile cannot be empty")
	}
	if cfg.Step <= 0 || cfg.Step > 1 {
		return nil, fmt.Errorf("pruning step must be in (0,1], got %v", cfg.Step)
	}
	if len(duplicates) != r {
		return nil, fmt.Errorf("duplicate incidence has %d rows for %d reactions", len(duplicates), r)
	}
	if len(species) != r {
		return nil, fmt.Errorf("species incidence has %d rows for %d reactions", len(species), r)
	}

	// Least-sensitive-first ordering; ties resolve by index so the
	// search is deterministic.
	order := make([]int, r)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sensitivities[order[a]] < sensitivities[order[b]]
	})

	accepted := onesMask(r)
	acceptedRate := 0.0
	var attempts []Attempt

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rate := float64(step) * cfg.Step

		mask := candidateMask(order, duplicates, int(float64(r)*rate))
		errAt, err := eval(ctx, mask)
		if err != nil {
			return nil, fmt.Errorf("pruning evaluation at rate %v: %w", rate, err)
		}
		attempts = append(attempts, Attempt{Rate: rate, Mask: mask, Error: errAt})
		slog.Info("Pruning candidate evaluated",
			"rate", rate,
			"error", errAt,
			"reference_error", referenceError,
			"kept_reactions", sumMask(mask),
		)

		if errAt-referenceError > cfg.Delta || rate >= cfg.Ceiling {
			break
		}
		accepted = mask
		acceptedRate = rate
	}

	if acceptedRate == 0 {
		first := attempts[0]
		return nil, &BudgetExhaustedError{BestRate: 0, BestError: first.Error, Delta: cfg.Delta}
	}

	speciesMask := deriveSpecies(accepted, species, alwaysKeep)
	slog.Info("Pruning accepted",
		"rate", acceptedRate,
		"kept_reactions", sumMask(accepted),
		"total_reactions", r,
		"kept_species", sumMask(speciesMask),
	)

	return &Result{
		Rate:           acceptedRate,
		ReactionMask:   accepted,
		SpeciesMask:    speciesMask,
		ReferenceError: referenceError,
		Attempts:       attempts,
	}, nil
}

// candidateMask excludes the k least sensitive reactions plus every
// reaction the duplicate incidence marks as dependent on them.
func candidateMask(order []int, duplicates [][]int, k int) []int {
	r := len(order)
	if k > r {
		k = r
	}

	excluded := make([]int, r)
	for _, idx := range order[:k] {
		excluded[idx] = 1
	}

	mask := make([]int, r)
	for j := 0; j < r; j++ {
		if excluded[j] == 1 {
			continue
		}
		dependent := 0
		for i := 0; i < r; i++ {
			dependent += excluded[i] * duplicates[i][j]
		}
		if dependent == 0 {
			mask[j] = 1
		}
	}
	return mask
}

// deriveSpecies projects a reaction mask onto species: a species
// survives if any kept reaction touches it, or if it is always-keep.
func deriveSpecies(reactionMask []int, species [][]int, alwaysKeep []int) []int {
	s := 0
	if len(species) > 0 {
		s = len(species[0])
	}

	mask := make([]int, s)
	for i, row := range species {
		if reactionMask[i] == 0 {
			continue
		}
		for j, touches := range row {
			if touches != 0 {
				mask[j] = 1
			}
		}
	}
	for j := range mask {
		if j < len(alwaysKeep) && alwaysKeep[j] == 1 {
			mask[j] = 1
		}
	}
	return mask
}

func onesMask(n int) []int {
	mask := make([]int, n)
	for i := range mask {
		mask[i] = 1
	}
	return mask
}

func sumMask(mask []int) int {
	sum := 0
	for _, v := range mask {
		sum += v
	}
	return sum
}

// SeedShortfallError reports that subset enumeration produced fewer
// candidate chromosomes than the target population size. The caller
// must lower the population or the drop count; the seed is never
// silently padded.
type SeedShortfallError struct {
	Candidates int
	Population int
}

func (e *SeedShortfallError) Error() string {
	return fmt.Sprintf("seed synthesis produced %d candidates for population %d", e.Candidates, e.Population)
}

func (e *SeedShortfallError) Is(target error) bool {
	_, ok := target.(*SeedShortfallError)
	return ok
}

// SeedPopulation synthesizes the initial reduction population from an
// accepted species mask: every way of additionally dropping exactly
// dropCount surviving non-important species yields one candidate
// chromosome. When more candidates exist than populationSize, a uniform
// sample without replacement is drawn.
func SeedPopulation(speciesMask, nonImportant []int, dropCount, populationSize int, rng *rand.Rand) ([][]float64, error) {
	if populationSize <= 0 {
		return nil, fmt.Errorf("population size must be positive, got %d", populationSize)
	}
	if dropCount < 0 {
		return nil, fmt.Errorf("drop count cannot be negative, got %d", dropCount)
	}

	var droppable []int
	for i, kept := range speciesMask {
		if kept == 1 && i < len(nonImportant) && nonImportant[i] == 1 {
			droppable = append(droppable, i)
		}
	}

	var candidates [][]float64
	combinations(len(droppable), dropCount, func(combo []int) {
		chrom := make([]float64, len(speciesMask))
		for i, kept := range speciesMask {
			chrom[i] = float64(kept)
		}
		for _, c := range combo {
			chrom[droppable[c]] = 0
		}
		candidates = append(candidates, chrom)
	})

	slog.Info("Seed population synthesized",
		"droppable_species", len(droppable),
		"drop_count", dropCount,
		"candidates", len(candidates),
	)

	if len(candidates) < populationSize {
		return nil, &SeedShortfallError{Candidates: len(candidates), Population: populationSize}
	}
	if len(candidates) == populationSize {
		return candidates, nil
	}

	sampled := make([][]float64, 0, populationSize)
	for _, idx := range rng.Perm(len(candidates))[:populationSize] {
		sampled = append(sampled, candidates[idx])
	}
	return sampled, nil
}

// combinations enumerates every k-subset of [0,m) in lexicographic
// order, invoking fn with an index slice that is reused across calls.
func combinations(m, k int, fn func(combo []int)) {
	if k < 0 || k > m {
		return
	}
	if k == 0 {
		fn(nil)
		return
	}

	combo := make([]int, k)
	for i := range combo {
		combo[i] = i
	}
	for {
		fn(combo)

		// Advance the rightmost index that can still move.
		i := k - 1
		for i >= 0 && combo[i] == m-k+i {
			i--
		}
		if i < 0 {
			return
		}
		combo[i]++
		for j := i + 1; j < k; j++ {
			combo[j] = combo[j-1] + 1
		}
	}
}
