package evalpool

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"mechevolve/internal/genome"
)

// Func computes the scalar error for one individual. It is called at
// most once per population index per Evaluate call and must be safe for
// concurrent invocation on distinct indices.
type Func func(ctx context.Context, index int, genes []float64) (float64, error)

// EvaluationError reports a fitness computation that could not complete.
// The run cannot proceed without a full fitness record, so callers treat
// it as fatal; retries per index are their responsibility.
type EvaluationError struct {
	Index int
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed for individual %d: %v", e.Index, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool {
	_, ok := target.(*EvaluationError)
	return ok
}

type result struct {
	index int
	value float64
	err   error
}

// Evaluate computes one error per individual with at most maxWorkers
// evaluations in flight, replenishing the window as completions arrive.
// Workers publish on a single shared completion channel; results are
// reassembled into population-index order before returning, so worker
// completion order is never observable. maxWorkers values below 1 run
// the same path on a single goroutine with identical output.
//
// A worker failure (error or panic) stops further launches, drains the
// in-flight window, and surfaces as *EvaluationError; it never hangs and
// no index is skipped or evaluated twice.
func Evaluate(ctx context.Context, pop genome.Population, fn Func, maxWorkers int) ([]float64, error) {
	n := len(pop)
	if n == 0 {
		return []float64{}, nil
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result)

	p := pool.New().WithMaxGoroutines(maxWorkers)
	go func() {
		for i := range pop {
			index, genes := i, pop[i]
			p.Go(func() {
				results <- evalOne(ctx, fn, index, genes)
			})
		}
		p.Wait()
		close(results)
	}()

	out := make([]float64, n)
	var firstErr *EvaluationError
	for res := range results {
		if res.err != nil {
			// Keep the root failure; workers cut short by the
			// cancellation below only report context errors.
			if firstErr == nil || (res.err != context.Canceled && firstErr.Err == context.Canceled) {
				firstErr = &EvaluationError{Index: res.index, Err: res.err}
			}
			cancel()
			continue
		}
		out[res.index] = res.value
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// evalOne runs one fitness call, converting panics into errors so a
// crashing worker still produces exactly one completion event.
func evalOne(ctx context.Context, fn Func, index int, genes []float64) (res result) {
	res.index = index

	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()

	res.value, res.err = fn(ctx, index, genes)
	return res
}
