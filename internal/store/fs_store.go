package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore implements the Store interface using filesystem-based
// persistence. Snapshots live in <baseDir>/runs/<runID>/gen-NNNNNN.json,
// one immutable file per generation.
//
// Thread-safety: atomic file operations (temp file + rename) are used
// throughout, so no locks are required.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// runDir returns the directory path for a given run ID.
func (fs *FSStore) runDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

// generationPath returns the snapshot path for one generation of a run.
func (fs *FSStore) generationPath(runID string, generation int) string {
	return filepath.Join(fs.runDir(runID), fmt.Sprintf("gen-%06d.json", generation))
}

// SaveGeneration atomically persists one generation's snapshot.
// Uses the temp file + rename pattern to ensure atomicity.
func (fs *FSStore) SaveGeneration(runID string, cp *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if cp == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid checkpoint: %w", err)
	}

	runDir := fs.runDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := fs.generationPath(runID, cp.Generation)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved", "run_id", runID, "generation", cp.Generation, "path", finalPath)
	return nil
}

// LoadGeneration retrieves one generation's snapshot for the given run.
func (fs *FSStore) LoadGeneration(runID string, generation int) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	return fs.loadPath(runID, fs.generationPath(runID, generation))
}

// LoadLatest retrieves the highest-numbered generation snapshot.
func (fs *FSStore) LoadLatest(runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	generations, err := fs.generationFiles(runID)
	if err != nil {
		return nil, err
	}
	if len(generations) == 0 {
		return nil, &NotFoundError{RunID: runID}
	}
	return fs.loadPath(runID, generations[len(generations)-1])
}

func (fs *FSStore) loadPath(runID, path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	slog.Debug("Checkpoint loaded", "run_id", runID, "generation", cp.Generation, "path", path)
	return &cp, nil
}

// generationFiles returns the sorted snapshot paths for a run. The
// zero-padded gen-NNNNNN naming makes lexical order generation order.
func (fs *FSStore) generationFiles(runID string) ([]string, error) {
	runDir := fs.runDir(runID)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to read run directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "gen-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		paths = append(paths, filepath.Join(runDir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// ListRuns returns metadata for all runs with at least one snapshot.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			// No runs exist yet.
			return []RunInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var infos []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()

		generations, err := fs.generationFiles(runID)
		if err != nil || len(generations) == 0 {
			continue
		}
		latest, err := fs.loadPath(runID, generations[len(generations)-1])
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "run_id", runID, "error", err)
			continue
		}

		info := latest.ToInfo()
		info.Generations = len(generations)
		infos = append(infos, info)
	}

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes all snapshots and artifacts for the given run.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.runDir(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "run_id", runID, "path", runDir)
	return nil
}
