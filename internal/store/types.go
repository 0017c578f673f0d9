package store

import (
	"fmt"
	"time"
)

// Checkpoint is one generation's persisted snapshot: the fully evaluated
// population with its fitness record and any auxiliary per-individual
// scalars. It is written after ranking and recording, before selection,
// so a resumed run restarts from a fully evaluated generation.
//
// The logical schema is one row per individual: gene values, then a
// trailing error column and optional auxiliary column; Columns carries
// the header names in that order.
type Checkpoint struct {
	// RunID identifies the run this snapshot belongs to.
	RunID string `json:"runId"`

	// Generation is the zero-based generation index of the snapshot.
	Generation int `json:"generation"`

	// Columns names the gene columns followed by the trailing error and
	// auxiliary columns.
	Columns []string `json:"columns"`

	// Population holds one gene vector per individual, in index order.
	Population [][]float64 `json:"population"`

	// Errors holds the per-individual error, aligned with Population.
	Errors []float64 `json:"errors"`

	// Aux holds an optional auxiliary scalar per individual (e.g. the
	// normalized structure size of a reduction chromosome).
	Aux []float64 `json:"aux,omitempty"`

	// Timestamp records when this snapshot was created.
	Timestamp time.Time `json:"timestamp"`
}

// RunInfo contains metadata about a run's checkpoints without the full
// population data. Used for listing runs efficiently.
type RunInfo struct {
	RunID            string    `json:"runId"`
	Generations      int       `json:"generations"`
	LatestGeneration int       `json:"latestGeneration"`
	BestError        float64   `json:"bestError"`
	PopulationSize   int       `json:"populationSize"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewCheckpoint assembles a snapshot from engine state.
func NewCheckpoint(runID string, generation int, columns []string, population [][]float64, errs, aux []float64) *Checkpoint {
	return &Checkpoint{
		RunID:      runID,
		Generation: generation,
		Columns:    columns,
		Population: population,
		Errors:     errs,
		Aux:        aux,
		Timestamp:  time.Now(),
	}
}

// ToInfo summarizes the snapshot as run metadata.
func (c *Checkpoint) ToInfo() RunInfo {
	best := 0.0
	for i, e := range c.Errors {
		if i == 0 || e < best {
			best = e
		}
	}
	return RunInfo{
		RunID:            c.RunID,
		Generations:      1,
		LatestGeneration: c.Generation,
		BestError:        best,
		PopulationSize:   len(c.Population),
		Timestamp:        c.Timestamp,
	}
}

// Validate checks the snapshot's shape invariants.
// Returns an error if any required field is missing or inconsistent.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if len(c.Population) == 0 {
		return &ValidationError{Field: "Population", Reason: "cannot be empty"}
	}
	width := len(c.Population[0])
	if width == 0 {
		return &ValidationError{Field: "Population", Reason: "gene vectors cannot be empty"}
	}
	for i, row := range c.Population {
		if len(row) != width {
			return &ValidationError{
				Field:  "Population",
				Reason: fmt.Sprintf("row %d has %d genes, want %d", i, len(row), width),
			}
		}
	}
	if len(c.Errors) != len(c.Population) {
		return &ValidationError{
			Field:  "Errors",
			Reason: fmt.Sprintf("length %d does not match population %d", len(c.Errors), len(c.Population)),
		}
	}
	if c.Aux != nil && len(c.Aux) != len(c.Population) {
		return &ValidationError{
			Field:  "Aux",
			Reason: fmt.Sprintf("length %d does not match population %d", len(c.Aux), len(c.Population)),
		}
	}
	wantColumns := width + 1
	if c.Aux != nil {
		wantColumns++
	}
	if len(c.Columns) != wantColumns {
		return &ValidationError{
			Field:  "Columns",
			Reason: fmt.Sprintf("have %d names for %d columns", len(c.Columns), wantColumns),
		}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
