// Package history persists per-generation run summaries to SQLite so
// completed and in-flight runs can be inspected and plotted without
// touching checkpoint files.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mechevolve/internal/engine"
)

// Store records generation summaries in a SQLite database, one row per
// (run, generation). It implements engine.GenerationRecorder.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS generations (
			run_id      TEXT    NOT NULL,
			generation  INTEGER NOT NULL,
			best_error  REAL    NOT NULL,
			avg_error   REAL    NOT NULL,
			best_genes  TEXT    NOT NULL,
			recorded_at TEXT    NOT NULL,
			PRIMARY KEY (run_id, generation)
		)
	`)
	return err
}

// RecordGeneration upserts one generation's summary.
func (s *Store) RecordGeneration(ctx context.Context, runID string, summary engine.GenerationSummary) error {
	genes, err := json.Marshal(summary.BestGenes)
	if err != nil {
		return fmt.Errorf("failed to encode best genes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generations (run_id, generation, best_error, avg_error, best_genes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, generation) DO UPDATE SET
			best_error  = excluded.best_error,
			avg_error   = excluded.avg_error,
			best_genes  = excluded.best_genes,
			recorded_at = excluded.recorded_at
	`, runID, summary.Generation, summary.BestError, summary.AvgError, string(genes), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Row is one generation's stored summary.
type Row struct {
	RunID      string
	Generation int
	BestError  float64
	AvgError   float64
	BestGenes  []float64
	RecordedAt time.Time
}

// RunSummaries returns all recorded generations for a run in ascending
// generation order.
func (s *Store) RunSummaries(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, generation, best_error, avg_error, best_genes, recorded_at
		FROM generations
		WHERE run_id = ?
		ORDER BY generation ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row      Row
			genes    string
			recorded string
		)
		if err := rows.Scan(&row.RunID, &row.Generation, &row.BestError, &row.AvgError, &genes, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if err := json.Unmarshal([]byte(genes), &row.BestGenes); err != nil {
			return nil, fmt.Errorf("failed to decode best genes for generation %d: %w", row.Generation, err)
		}
		if t, err := time.Parse(time.RFC3339, recorded); err == nil {
			row.RecordedAt = t
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Runs returns the distinct run IDs with recorded history, newest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM generations
		GROUP BY run_id
		ORDER BY MAX(recorded_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run ID: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
