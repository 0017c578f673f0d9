package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"mechevolve/internal/fitness"
	"mechevolve/internal/genome"
	"mechevolve/internal/store"
)

func newTestCodec(t *testing.T, opts genome.Options) *genome.Codec {
	t.Helper()

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(42))
	}
	c, err := genome.New(opts)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	return c
}

func newTestStore(t *testing.T) *store.FSStore {
	t.Helper()

	s, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

// memoryRecorder collects generation summaries for inspection.
type memoryRecorder struct {
	mu        sync.Mutex
	summaries []GenerationSummary
	fail      bool
}

func (r *memoryRecorder) RecordGeneration(_ context.Context, _ string, s GenerationSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("recorder unavailable")
	}
	r.summaries = append(r.summaries, s)
	return nil
}

// failingStore rejects saves after a configurable number of successes.
type failingStore struct {
	*store.FSStore
	allowed int
	saves   int
}

func (f *failingStore) SaveGeneration(runID string, cp *store.Checkpoint) error {
	if f.saves >= f.allowed {
		return errors.New("disk full")
	}
	f.saves++
	return f.FSStore.SaveGeneration(runID, cp)
}

func TestNewValidation(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 3, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})
	strategy := &ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty run ID", Config{MaxIterations: 5}},
		{"zero iterations", Config{RunID: "r"}},
		{"gene name mismatch", Config{RunID: "r", MaxIterations: 5, GeneNames: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, codec, strategy); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := New(Config{RunID: "r", MaxIterations: 5}, nil, strategy); err == nil {
		t.Error("Expected error for nil codec")
	}
	if _, err := New(Config{RunID: "r", MaxIterations: 5}, codec, nil); err == nil {
		t.Error("Expected error for nil strategy")
	}
}

func TestRunCompletesAllGenerations(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 4, Population: 10, MutationRate: 0.05, CrossoverProb: 0.9})
	checkpoints := newTestStore(t)
	recorder := &memoryRecorder{}

	eng, err := New(Config{
		RunID:         "full-run",
		MaxIterations: 6,
		Checkpoints:   checkpoints,
		Recorder:      recorder,
	}, codec, &ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(state.History) != 6 {
		t.Errorf("History length = %d, want 6", len(state.History))
	}
	if state.LastCheckpointed != 5 {
		t.Errorf("LastCheckpointed = %d, want 5", state.LastCheckpointed)
	}
	if len(state.FinalPopulation) != 10 {
		t.Errorf("Final population size = %d, want 10", len(state.FinalPopulation))
	}
	if len(recorder.summaries) != 6 {
		t.Errorf("Recorder received %d summaries, want 6", len(recorder.summaries))
	}

	// Every generation has a loadable snapshot of full shape.
	for gen := 0; gen < 6; gen++ {
		cp, err := checkpoints.LoadGeneration("full-run", gen)
		if err != nil {
			t.Fatalf("LoadGeneration(%d) failed: %v", gen, err)
		}
		if len(cp.Population) != 10 {
			t.Errorf("Generation %d population = %d, want 10", gen, len(cp.Population))
		}
		if len(cp.Errors) != 10 {
			t.Errorf("Generation %d errors = %d, want 10", gen, len(cp.Errors))
		}
		if len(cp.Columns) != 5 {
			t.Errorf("Generation %d columns = %d, want 5", gen, len(cp.Columns))
		}
	}
}

func TestRunTracksGlobalBest(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 3, Population: 12, MutationRate: 0.1, CrossoverProb: 0.9})

	eng, err := New(Config{RunID: "best-run", MaxIterations: 10}, codec,
		&ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, s := range state.History {
		if state.Best.Error > s.BestError {
			t.Errorf("Champion error %v worse than generation %d best %v",
				state.Best.Error, s.Generation, s.BestError)
		}
		if s.BestError > s.AvgError {
			t.Errorf("Generation %d best %v exceeds average %v", s.Generation, s.BestError, s.AvgError)
		}
	}
	if state.Best.Generation < 0 {
		t.Error("Champion generation never set")
	}
	if len(state.Best.Genes) != 3 {
		t.Errorf("Champion has %d genes, want 3", len(state.Best.Genes))
	}
}

func TestRunEarlyStop(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0, CrossoverProb: 0})

	// A constant evaluator never improves, so the window fires as soon as
	// it fills.
	constant := fitness.Func(func(_ context.Context, _ int, _ []float64) (float64, error) {
		return 5, nil
	})

	eng, err := New(Config{
		RunID:         "early-run",
		MaxIterations: 100,
		EarlyStop:     NoImprovement(3),
	}, codec, &ContinuousStrategy{Evaluator: constant, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(state.History) != 4 {
		t.Errorf("Ran %d generations, want 4 (window 3 plus the baseline)", len(state.History))
	}
}

func TestRunEvaluationFailureIsFatal(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})
	checkpoints := newTestStore(t)

	// Fail on the third generation's evaluations.
	var mu sync.Mutex
	calls := 0
	flaky := fitness.Func(func(_ context.Context, _ int, genes []float64) (float64, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 8 {
			return 0, errors.New("simulator crashed")
		}
		return genes[0], nil
	})

	eng, err := New(Config{
		RunID:         "fatal-run",
		MaxIterations: 10,
		Checkpoints:   checkpoints,
	}, codec, &ContinuousStrategy{Evaluator: flaky, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state, err := eng.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected run failure")
	}
	if state == nil {
		t.Fatal("Expected state even on failure")
	}
	if state.LastCheckpointed != 1 {
		t.Errorf("LastCheckpointed = %d, want 1", state.LastCheckpointed)
	}

	// The saved snapshots survive for resumption.
	if _, err := checkpoints.LoadGeneration("fatal-run", 1); err != nil {
		t.Errorf("Checkpoint for generation 1 missing: %v", err)
	}
}

func TestRunCheckpointFailureIsFatal(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})

	failing := &failingStore{FSStore: newTestStore(t), allowed: 2}
	eng, err := New(Config{
		RunID:         "disk-run",
		MaxIterations: 10,
		Checkpoints:   failing,
	}, codec, &ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state, err := eng.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected run failure on checkpoint save")
	}
	if state.LastCheckpointed != 1 {
		t.Errorf("LastCheckpointed = %d, want 1", state.LastCheckpointed)
	}
	if len(state.History) != 3 {
		t.Errorf("History length = %d, want 3 (the failed generation was still recorded)", len(state.History))
	}
}

func TestRunRecorderFailureIsNotFatal(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})

	eng, err := New(Config{
		RunID:         "recorder-run",
		MaxIterations: 3,
		Recorder:      &memoryRecorder{fail: true},
	}, codec, &ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed on recorder error: %v", err)
	}
}

func TestRunContextCancellation(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, err := New(Config{RunID: "cancelled-run", MaxIterations: 10}, codec,
		&ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.Run(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunStartGenerationOffset(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})
	checkpoints := newTestStore(t)

	eng, err := New(Config{
		RunID:           "resumed-run",
		MaxIterations:   3,
		StartGeneration: 7,
		Checkpoints:     checkpoints,
	}, codec, &ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if state.History[0].Generation != 7 {
		t.Errorf("First generation = %d, want 7", state.History[0].Generation)
	}
	if state.LastCheckpointed != 9 {
		t.Errorf("LastCheckpointed = %d, want 9", state.LastCheckpointed)
	}

	latest, err := checkpoints.LoadLatest("resumed-run")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if latest.Generation != 9 {
		t.Errorf("Latest snapshot generation = %d, want 9", latest.Generation)
	}
}

func TestRunGeneNamesInColumns(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})
	checkpoints := newTestStore(t)

	eng, err := New(Config{
		RunID:         "named-run",
		MaxIterations: 1,
		GeneNames:     []string{"H2", "O2"},
		Checkpoints:   checkpoints,
	}, codec, &ContinuousStrategy{Evaluator: fitness.Sphere{}, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	cp, err := checkpoints.LoadGeneration("named-run", 0)
	if err != nil {
		t.Fatalf("LoadGeneration failed: %v", err)
	}
	want := []string{"H2", "O2", "Error"}
	for i, col := range want {
		if cp.Columns[i] != col {
			t.Errorf("Column %d = %q, want %q", i, cp.Columns[i], col)
		}
	}
}

func TestContinuousStrategyRanking(t *testing.T) {
	s := &ContinuousStrategy{Evaluator: fitness.GeneSum{}, MaxWorkers: 2}

	pop := genome.Population{{1, 1}, {0, 0}, {3, 3}}
	ranking, err := s.Rank(context.Background(), pop)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	if ranking.Aux != nil {
		t.Error("Continuous ranking produced an aux column")
	}
	wantErrs := []float64{2, 0, 6}
	for i, e := range ranking.Recorded {
		if e != wantErrs[i] {
			t.Errorf("Recorded[%d] = %v, want %v", i, e, wantErrs[i])
		}
		if ranking.Weights[i] != -e {
			t.Errorf("Weights[%d] = %v, want %v", i, ranking.Weights[i], -e)
		}
	}
	if s.AuxColumn() != "" {
		t.Errorf("AuxColumn = %q, want empty", s.AuxColumn())
	}
}

func TestReductionStrategyRanking(t *testing.T) {
	s := &ReductionStrategy{Evaluator: fitness.GeneSum{}, MaxWorkers: 1, SizePenaltyWeight: 3}

	pop := genome.Population{{1, 1, 0, 0}, {1, 1, 1, 1}}
	ranking, err := s.Rank(context.Background(), pop)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	// Raw errors stay unpenalized in the record.
	if ranking.Recorded[0] != 2 || ranking.Recorded[1] != 4 {
		t.Errorf("Recorded = %v, want [2 4]", ranking.Recorded)
	}
	// Sizes are the retained fraction.
	if ranking.Aux[0] != 0.5 || ranking.Aux[1] != 1 {
		t.Errorf("Aux = %v, want [0.5 1]", ranking.Aux)
	}
	// Weights fold in the size penalty: -(err + size*3).
	if ranking.Weights[0] != -(2+0.5*3) || ranking.Weights[1] != -(4+1*3) {
		t.Errorf("Weights = %v, want [%v %v]", ranking.Weights, -(2 + 0.5*3), -(4 + 1*3))
	}
	if s.AuxColumn() != "Size" {
		t.Errorf("AuxColumn = %q, want Size", s.AuxColumn())
	}
}

func TestReductionRunRecordsSizeColumn(t *testing.T) {
	codec := newTestCodec(t, genome.Options{
		Encoding:      genome.Binary,
		Dimension:     4,
		Population:    6,
		MutationRate:  0.1,
		CrossoverProb: 0.9,
	})
	checkpoints := newTestStore(t)

	eng, err := New(Config{
		RunID:         "reduction-run",
		MaxIterations: 2,
		Checkpoints:   checkpoints,
	}, codec, &ReductionStrategy{Evaluator: fitness.GeneSum{}, MaxWorkers: 1, SizePenaltyWeight: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := eng.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	cp, err := checkpoints.LoadGeneration("reduction-run", 0)
	if err != nil {
		t.Fatalf("LoadGeneration failed: %v", err)
	}
	if len(cp.Columns) != 6 {
		t.Fatalf("Columns = %d, want 6 (4 genes, Error, Size)", len(cp.Columns))
	}
	if cp.Columns[5] != "Size" {
		t.Errorf("Trailing column = %q, want Size", cp.Columns[5])
	}
	if len(cp.Aux) != 6 {
		t.Errorf("Aux length = %d, want 6", len(cp.Aux))
	}
	for i, size := range cp.Aux {
		kept := 0.0
		for _, g := range cp.Population[i] {
			kept += g
		}
		if size != kept/4 {
			t.Errorf("Aux[%d] = %v, want %v", i, size, kept/4)
		}
	}
}

func TestNoImprovement(t *testing.T) {
	history := func(errs ...float64) []GenerationSummary {
		out := make([]GenerationSummary, len(errs))
		for i, e := range errs {
			out[i] = GenerationSummary{Generation: i, BestError: e}
		}
		return out
	}

	tests := []struct {
		name   string
		window int
		errs   []float64
		want   bool
	}{
		{"history shorter than window", 3, []float64{5, 4, 3}, false},
		{"improvement inside window", 3, []float64{5, 4, 3, 2, 1, 0.5}, false},
		{"stagnant window", 3, []float64{5, 4, 3, 3, 3, 3}, true},
		{"window worse than before", 2, []float64{1, 5, 5}, true},
		{"zero window disabled", 0, []float64{5, 5, 5, 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NoImprovement(tt.window)(history(tt.errs...))
			if got != tt.want {
				t.Errorf("NoImprovement(%d) = %v, want %v", tt.window, got, tt.want)
			}
		})
	}
}

func TestRunErrorMentionsLastCheckpoint(t *testing.T) {
	codec := newTestCodec(t, genome.Options{Dimension: 2, Population: 4, MutationRate: 0.1, CrossoverProb: 0.9})
	checkpoints := newTestStore(t)

	var mu sync.Mutex
	calls := 0
	flaky := fitness.Func(func(_ context.Context, _ int, genes []float64) (float64, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 4 {
			return 0, errors.New("boom")
		}
		return genes[0], nil
	})

	eng, err := New(Config{RunID: "msg-run", MaxIterations: 5, Checkpoints: checkpoints},
		codec, &ContinuousStrategy{Evaluator: flaky, MaxWorkers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected failure")
	}
	want := fmt.Sprintf("generation %d (last checkpointed %d)", 1, 0)
	if got := err.Error(); !contains(got, want) {
		t.Errorf("Error %q does not mention %q", got, want)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
