package store

// Store defines the interface for checkpoint persistence operations.
// Implementations must be thread-safe and handle concurrent access
// gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if a run or generation doesn't exist (Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveGeneration atomically persists one generation's snapshot for
	// the given run. Snapshots are immutable once written: saving the
	// same generation again overwrites with equivalent content, never
	// mutates in place. A failed save must be surfaced; the engine
	// never continues as if checkpointed.
	SaveGeneration(runID string, cp *Checkpoint) error

	// LoadGeneration retrieves one generation's snapshot.
	// Returns ErrNotFound if the run or generation doesn't exist.
	LoadGeneration(runID string, generation int) (*Checkpoint, error)

	// LoadLatest retrieves the highest-numbered generation snapshot for
	// the run, which is the natural resume point.
	// Returns ErrNotFound if the run has no snapshots.
	LoadLatest(runID string) (*Checkpoint, error)

	// ListRuns returns metadata for all runs with at least one snapshot.
	// The returned slice may be empty.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes all snapshots and artifacts for the given run,
	// including its generation files and trace.jsonl.
	// Returns ErrNotFound if the run doesn't exist.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run or generation does not
// exist. Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run or generation snapshot.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "checkpoint not found: " + e.RunID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
