package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"mechevolve/internal/genome"
	"mechevolve/internal/store"
)

// GenerationSummary captures one completed generation. Entries are
// appended once per generation and never mutated afterwards.
type GenerationSummary struct {
	// Generation is the zero-based generation index.
	Generation int

	// BestIndex is the population index of the generation's best
	// individual under the selection weights.
	BestIndex int

	// BestGenes are the best individual's genes (internal encoding).
	BestGenes []float64

	// BestValues are the best genes decoded to physical values.
	BestValues []float64

	// BestError is the best individual's error (penalized for
	// reduction runs, matching the selection weights).
	BestError float64

	// AvgError is the population's mean error.
	AvgError float64

	// Errors is the full per-individual error vector.
	Errors []float64
}

// GlobalBest is the run's champion, replaced only on strict improvement.
type GlobalBest struct {
	Generation int
	Genes      []float64
	Values     []float64
	Error      float64
}

// RunState is the explicit, caller-owned state of one run: the summary
// history, the champion, and resume bookkeeping. The engine returns it
// even on failure so callers can report the last checkpointed
// generation.
type RunState struct {
	RunID string

	// History holds one summary per completed generation.
	History []GenerationSummary

	// Best is the running champion across all generations.
	Best GlobalBest

	// LastCheckpointed is the highest generation index persisted to the
	// checkpoint store, or -1 when nothing was saved.
	LastCheckpointed int

	// FinalPopulation is the population left when the loop terminated.
	FinalPopulation genome.Population
}

// GenerationRecorder receives each completed generation's summary, e.g.
// for the run-history database. Recorder failures are logged and never
// fail the run.
type GenerationRecorder interface {
	RecordGeneration(ctx context.Context, runID string, s GenerationSummary) error
}

// Config wires one run of the generational loop.
type Config struct {
	// RunID identifies the run in checkpoints, traces, and history.
	RunID string

	// MaxIterations is the number of generations to execute.
	MaxIterations int

	// StartGeneration offsets the generation index for resumed runs.
	StartGeneration int

	// GeneNames label the checkpoint gene columns (e.g. species names).
	// When empty, positional names are generated.
	GeneNames []string

	// Checkpoints persists per-generation snapshots. Nil disables
	// checkpointing; a failed save is fatal, never skipped silently.
	Checkpoints store.Store

	// Trace receives per-generation summary lines. Optional.
	Trace *store.TraceWriter

	// Recorder receives per-generation summaries. Optional.
	Recorder GenerationRecorder

	// EarlyStop is an optional predicate over the summary history,
	// checked after each recorded generation.
	EarlyStop func(history []GenerationSummary) bool

	// Report is invoked once at termination with the final run state.
	Report func(state *RunState)
}

// Engine drives the generational loop: rank, record, checkpoint,
// select, crossover, mutate. It is single-threaded and owns the
// population exclusively; concurrency lives inside ranking only.
type Engine struct {
	cfg      Config
	codec    *genome.Codec
	strategy Strategy
}

// New validates the wiring and returns an engine.
func New(cfg Config, codec *genome.Codec, strategy Strategy) (*Engine, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	if strategy == nil {
		return nil, fmt.Errorf("strategy cannot be nil")
	}
	if len(cfg.GeneNames) > 0 && len(cfg.GeneNames) != codec.Dimension() {
		return nil, fmt.Errorf("have %d gene names for dimension %d", len(cfg.GeneNames), codec.Dimension())
	}
	return &Engine{cfg: cfg, codec: codec, strategy: strategy}, nil
}

// Run executes the loop until MaxIterations generations complete or the
// early-stop predicate fires. The returned state is valid even when err
// is non-nil: LastCheckpointed tells the caller where a resume can
// start.
func (e *Engine) Run(ctx context.Context, seed genome.Population) (*RunState, error) {
	state := &RunState{
		RunID:            e.cfg.RunID,
		LastCheckpointed: -1,
		Best:             GlobalBest{Generation: -1, Error: math.Inf(1)},
	}

	pop, err := e.codec.InitPopulation(seed)
	if err != nil {
		return state, err
	}

	last := e.cfg.StartGeneration + e.cfg.MaxIterations - 1
	for gen := e.cfg.StartGeneration; ; gen++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		ranking, err := e.strategy.Rank(ctx, pop)
		if err != nil {
			return state, fmt.Errorf("generation %d (last checkpointed %d): %w", gen, state.LastCheckpointed, err)
		}

		summary := e.record(state, gen, pop, ranking)
		slog.Info("Generation complete",
			"run_id", e.cfg.RunID,
			"generation", gen,
			"best_error", summary.BestError,
			"avg_error", summary.AvgError,
		)

		if err := e.checkpoint(gen, pop, ranking); err != nil {
			return state, fmt.Errorf("generation %d (last checkpointed %d): %w", gen, state.LastCheckpointed, err)
		}
		if e.cfg.Checkpoints != nil {
			state.LastCheckpointed = gen
		}
		e.report(ctx, summary)

		if gen == last {
			break
		}
		if e.cfg.EarlyStop != nil && e.cfg.EarlyStop(state.History) {
			slog.Info("Early stop", "run_id", e.cfg.RunID, "generation", gen)
			break
		}

		selected, err := e.codec.Select(pop, ranking.Weights)
		if err != nil {
			return state, err
		}
		pop = e.codec.Mutate(e.codec.Crossover(selected))
	}

	state.FinalPopulation = pop
	if e.cfg.Report != nil {
		e.cfg.Report(state)
	}
	return state, nil
}

// record appends the generation summary and advances the champion on
// strict improvement.
func (e *Engine) record(state *RunState, gen int, pop genome.Population, ranking *Ranking) GenerationSummary {
	errs := make([]float64, len(ranking.Weights))
	bestIdx := 0
	sum := 0.0
	for i, w := range ranking.Weights {
		errs[i] = -w
		sum += errs[i]
		if errs[i] < errs[bestIdx] {
			bestIdx = i
		}
	}

	bestGenes := append([]float64(nil), pop[bestIdx]...)
	summary := GenerationSummary{
		Generation: gen,
		BestIndex:  bestIdx,
		BestGenes:  bestGenes,
		BestValues: e.codec.RealValues(genome.Population{bestGenes})[0],
		BestError:  errs[bestIdx],
		AvgError:   sum / float64(len(errs)),
		Errors:     errs,
	}
	state.History = append(state.History, summary)

	if summary.BestError < state.Best.Error {
		state.Best = GlobalBest{
			Generation: gen,
			Genes:      summary.BestGenes,
			Values:     summary.BestValues,
			Error:      summary.BestError,
		}
	}
	return summary
}

// checkpoint persists the fully evaluated generation before selection
// replaces the population.
func (e *Engine) checkpoint(gen int, pop genome.Population, ranking *Ranking) error {
	if e.cfg.Checkpoints == nil {
		return nil
	}
	cp := store.NewCheckpoint(e.cfg.RunID, gen, e.columns(ranking), pop, ranking.Recorded, ranking.Aux)
	if err := e.cfg.Checkpoints.SaveGeneration(e.cfg.RunID, cp); err != nil {
		return fmt.Errorf("checkpoint save failed: %w", err)
	}
	return nil
}

// report feeds the trace and history recorder. Both are reporting
// surfaces: failures are logged, never fatal.
func (e *Engine) report(ctx context.Context, summary GenerationSummary) {
	if e.cfg.Trace != nil {
		entry := store.TraceEntry{
			Generation: summary.Generation,
			BestError:  summary.BestError,
			AvgError:   summary.AvgError,
			Timestamp:  time.Now(),
			BestGenes:  summary.BestGenes,
		}
		if err := e.cfg.Trace.Write(entry); err != nil {
			slog.Warn("Failed to write trace entry", "run_id", e.cfg.RunID, "generation", summary.Generation, "error", err)
		}
	}
	if e.cfg.Recorder != nil {
		if err := e.cfg.Recorder.RecordGeneration(ctx, e.cfg.RunID, summary); err != nil {
			slog.Warn("Failed to record generation history", "run_id", e.cfg.RunID, "generation", summary.Generation, "error", err)
		}
	}
}

// columns builds the checkpoint header: gene names, the error column,
// and the strategy's auxiliary column when present.
func (e *Engine) columns(ranking *Ranking) []string {
	d := e.codec.Dimension()
	columns := make([]string, 0, d+2)
	if len(e.cfg.GeneNames) > 0 {
		columns = append(columns, e.cfg.GeneNames...)
	} else {
		for j := 0; j < d; j++ {
			columns = append(columns, fmt.Sprintf("gene_%d", j))
		}
	}
	columns = append(columns, "Error")
	if ranking.Aux != nil {
		columns = append(columns, e.strategy.AuxColumn())
	}
	return columns
}

// NoImprovement returns an early-stop predicate that fires when the
// best error seen in the trailing window fails to improve on the best
// achieved before it.
func NoImprovement(window int) func(history []GenerationSummary) bool {
	return func(history []GenerationSummary) bool {
		if window <= 0 || len(history) <= window {
			return false
		}
		cutoff := len(history) - window
		bestBefore := math.Inf(1)
		for _, s := range history[:cutoff] {
			if s.BestError < bestBefore {
				bestBefore = s.BestError
			}
		}
		for _, s := range history[cutoff:] {
			if s.BestError < bestBefore {
				return false
			}
		}
		return true
	}
}
