package db

import (
	"database/sql"
	"fmt"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int
	RunID     string
	Event     string
	Stage     string
	Detail    string
	Timestamp string
}

// GenerationAttempt represents a row in the generation_attempts table.
type GenerationAttempt struct {
	ID          int
	RunID       string
	Stage       string
	Attempt     int
	CandidateID string
	Status      string
	Composite   float64
	Failure     string
	Timestamp   string
}

// LogPipelineEvent inserts a pipeline lifecycle event.
func (d *DB) LogPipelineEvent(runID, event, stage, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (run_id, event, stage, detail) VALUES (?, ?, ?, ?)`,
		runID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// LogGenerationAttempt inserts one candidate outcome.
func (d *DB) LogGenerationAttempt(runID, stage string, attempt int, candidateID, status string, composite float64, failure string) error {
	_, err := d.conn.Exec(
		`INSERT INTO generation_attempts (run_id, stage, attempt, candidate_id, status, composite, failure)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, stage, attempt, candidateID, status, composite, failure,
	)
	if err != nil {
		return fmt.Errorf("log generation attempt: %w", err)
	}
	return nil
}

// RunEvents returns all pipeline events for a run, oldest first.
func (d *DB) RunEvents(runID string) ([]PipelineEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, stage, detail, timestamp
		 FROM pipeline_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Stage = stage.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// StageAttempts returns all generation attempts for (run, stage), in attempt
// order.
func (d *DB) StageAttempts(runID, stage string) ([]GenerationAttempt, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, stage, attempt, candidate_id, status, composite, failure, timestamp
		 FROM generation_attempts WHERE run_id = ? AND stage = ? ORDER BY attempt ASC`,
		runID, stage,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage attempts: %w", err)
	}
	defer rows.Close()

	var attempts []GenerationAttempt
	for rows.Next() {
		var a GenerationAttempt
		var composite sql.NullFloat64
		var failure sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Attempt, &a.CandidateID, &a.Status, &composite, &failure, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage attempt: %w", err)
		}
		a.Composite = composite.Float64
		a.Failure = failure.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
