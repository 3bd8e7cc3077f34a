package database

import (
	"database/sql"
	"fmt"
	"time"

	"imagesorter/types"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	input_dir     TEXT NOT NULL,
	template_root TEXT NOT NULL,
	result_root   TEXT NOT NULL,
	threshold     REAL NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);

CREATE TABLE IF NOT EXISTS outcomes (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	candidate_path   TEXT NOT NULL,
	destination_path TEXT,
	label            TEXT NOT NULL,
	score            REAL NOT NULL,
	succeeded        INTEGER NOT NULL,
	error_reason     TEXT,
	recorded_at      TEXT NOT NULL,
	UNIQUE(run_id, candidate_path),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);`

// RunInfo describes a classification run
type RunInfo struct {
	RunID        string
	InputDir     string
	TemplateRoot string
	ResultRoot   string
	Threshold    float64
	StartedAt    time.Time
}

// InitDatabase opens the journal at dbPath and creates its tables.
// ":memory:" keeps the journal for the lifetime of the process only.
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// Every connection to ":memory:" is a separate database; a single
	// connection also serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return db, nil
}

// RecordRun stores the start of a run
func RecordRun(db *sql.DB, run RunInfo) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, input_dir, template_root, result_root, threshold, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.InputDir, run.TemplateRoot, run.ResultRoot, run.Threshold,
		run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun stamps the end time of a run
func FinishRun(db *sql.DB, runID string) error {
	_, err := db.Exec(`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// RecordOutcome stores the terminal record of one candidate
func RecordOutcome(db *sql.DB, runID string, outcome types.ClassificationOutcome) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO outcomes (run_id, candidate_path, destination_path, label, score, succeeded, error_reason, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		outcome.CandidatePath,
		nullIfEmpty(outcome.DestinationPath),
		outcome.Label,
		outcome.Score,
		outcome.Succeeded,
		nullIfEmpty(outcome.ErrorReason),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", outcome.CandidatePath, err)
	}
	return nil
}

// GetRunStats summarises the outcomes recorded for a run
func GetRunStats(db *sql.DB, runID string) (*types.RunStats, error) {
	stats := &types.RunStats{RunID: runID, PerLabel: make(map[string]int)}

	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(succeeded), 0) FROM outcomes WHERE run_id = ?`, runID,
	).Scan(&stats.Total, &stats.Succeeded)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	stats.Failed = stats.Total - stats.Succeeded

	rows, err := db.Query(
		`SELECT label, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY label ORDER BY label`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		stats.PerLabel[label] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label counts: %w", err)
	}
	stats.Unmatched = stats.PerLabel[types.UnmatchedLabel]

	rows, err = db.Query(
		`SELECT candidate_path, COALESCE(error_reason, '') FROM outcomes
		 WHERE run_id = ? AND succeeded = 0 ORDER BY candidate_path`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f types.FailedPath
		if err := rows.Scan(&f.Path, &f.Reason); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		stats.FailedPaths = append(stats.FailedPaths, f)
	}
	return stats, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
