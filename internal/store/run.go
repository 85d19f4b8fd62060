package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the final state of a run.
type RunStatus string

const (
	// RunCompleted means the board acknowledged the command.
	RunCompleted RunStatus = "completed"
	// RunAckTimeout means the command was sent but SELESAI never arrived in time.
	RunAckTimeout RunStatus = "ack_timeout"
	// RunFailed covers every other error.
	RunFailed RunStatus = "failed"
)

// Run is one detect-and-signal cycle.
type Run struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Device            string    `json:"device"`
	Command           string    `json:"command"`
	BottleDetected    bool      `json:"bottle_detected"`
	Frames            int       `json:"frames"`
	Skipped           int       `json:"skipped"`
	MatchedLabel      string    `json:"matched_label,omitempty"`
	MatchedConfidence float64   `json:"matched_confidence,omitempty"`
	StopReason        string    `json:"stop_reason"`
	AckLines          []string  `json:"ack_lines"`
	Points            int       `json:"points"`
	HasPoints         bool      `json:"has_points"`
	Status            RunStatus `json:"status"`
	Error             string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary aggregates the run history.
type Summary struct {
	Runs        int `json:"runs"`
	Bottles     int `json:"bottles"`
	Failed      int `json:"failed"`
	TotalPoints int `json:"total_points"`
}

// RunRepository provides access to stored runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

const runColumns = `id, started_at, finished_at, device, command, bottle_detected, frames, skipped,
	matched_label, matched_confidence, stop_reason, points, status, error`

// Create inserts a run and its ack lines. An empty ID is filled with a new UUID.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunCompleted
	}

	var points sql.NullInt64
	if run.HasPoints {
		points = sql.NullInt64{Int64: int64(run.Points), Valid: true}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Device, run.Command, run.BottleDetected,
		run.Frames, run.Skipped, run.MatchedLabel, run.MatchedConfidence, run.StopReason,
		points, string(run.Status), run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, line := range run.AckLines {
		if _, err := tx.Exec(
			`INSERT INTO run_ack_lines (run_id, sequence, line) VALUES (?, ?, ?)`,
			run.ID, i, line,
		); err != nil {
			return fmt.Errorf("insert ack line: %w", err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var detected int
	var points sql.NullInt64
	var status string

	err := row.Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Device, &run.Command, &detected,
		&run.Frames, &run.Skipped, &run.MatchedLabel, &run.MatchedConfidence, &run.StopReason,
		&points, &status, &run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.BottleDetected = detected != 0
	run.Status = RunStatus(status)
	if points.Valid {
		run.Points = int(points.Int64)
		run.HasPoints = true
	}
	return run, nil
}

// GetByID retrieves a run with its ack lines.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	lines, err := r.ackLines(run.ID)
	if err != nil {
		return nil, err
	}
	run.AckLines = lines
	return run, nil
}

func (r *RunRepository) ackLines(runID string) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT line FROM run_ack_lines WHERE run_id = ? ORDER BY sequence ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// List returns the most recent runs first. A limit of zero or less returns all runs.
// Ack lines are not loaded.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run by its ID.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Summary aggregates all stored runs.
func (r *RunRepository) Summary() (Summary, error) {
	var s Summary
	err := r.db.QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(bottle_detected), 0),
			COALESCE(SUM(CASE WHEN status != 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(points), 0)
		 FROM runs`,
	).Scan(&s.Runs, &s.Bottles, &s.Failed, &s.TotalPoints)
	return s, err
}
