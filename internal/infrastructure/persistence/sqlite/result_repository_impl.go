package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// ResultRepositoryImpl implements repository.ResultRepository with SQLite
type ResultRepositoryImpl struct {
	base
}

// NewResultRepository creates a new SQLite-based result repository
func NewResultRepository(db *sql.DB) *ResultRepositoryImpl {
	return &ResultRepositoryImpl{base{db: db}}
}

const resultColumns = `id, plan_id, task_id, version, status, steps, duration_ms, artifacts,
	quality_gates, metadata, created_at`

// Save inserts or replaces a result
func (r *ResultRepositoryImpl) Save(ctx context.Context, res *result.Result) error {
	stepsJSON, err := marshalJSON("steps", res.Steps)
	if err != nil {
		return err
	}
	artifactsJSON, err := marshalJSON("artifacts", res.Artifacts)
	if err != nil {
		return err
	}
	gatesJSON, err := marshalJSON("quality_gates", res.QualityGates)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON("metadata", res.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			duration_ms = excluded.duration_ms,
			artifacts = excluded.artifacts,
			quality_gates = excluded.quality_gates,
			metadata = excluded.metadata
	`
	_, err = r.getDB(ctx).ExecContext(ctx, query,
		res.ID, res.PlanID, res.TaskID, res.Version, string(res.Status), stepsJSON, res.DurationMs,
		artifactsJSON, gatesJSON, metadataJSON, formatTime(res.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save result failed: %w", err)
	}
	return nil
}

// Find retrieves a result by its ID
func (r *ResultRepositoryImpl) Find(ctx context.Context, id string) (*result.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE id = ?`

	res, err := scanResult(r.getDB(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, repository.ErrNotFound)
	}
	return res, err
}

// ListByTask returns the results of a task, oldest first
func (r *ResultRepositoryImpl) ListByTask(ctx context.Context, taskID string) ([]*result.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE task_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.getDB(ctx).QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list results failed: %w", err)
	}
	defer rows.Close()

	var results []*result.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// FindLatestByTask returns the most recent result of a task
func (r *ResultRepositoryImpl) FindLatestByTask(ctx context.Context, taskID string) (*result.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM results WHERE task_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`

	res, err := scanResult(r.getDB(ctx).QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for task %s: %w", taskID, repository.ErrNotFound)
	}
	return res, err
}

// Delete removes a result
func (r *ResultRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.getDB(ctx).ExecContext(ctx, "DELETE FROM results WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete result failed: %w", err)
	}
	return requireAffected(res, fmt.Errorf("result %s: %w", id, repository.ErrNotFound))
}

func scanResult(row rowScanner) (*result.Result, error) {
	var (
		res                                 result.Result
		status, createdAt                   string
		stepsJSON, artifactsJSON, gatesJSON string
		metadataJSON                        string
	)
	err := row.Scan(&res.ID, &res.PlanID, &res.TaskID, &res.Version, &status, &stepsJSON,
		&res.DurationMs, &artifactsJSON, &gatesJSON, &metadataJSON, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result failed: %w", err)
	}

	res.Status = result.Status(status)
	if err := unmarshalJSON("steps", stepsJSON, &res.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("artifacts", artifactsJSON, &res.Artifacts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("quality_gates", gatesJSON, &res.QualityGates); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("metadata", metadataJSON, &res.Metadata); err != nil {
		return nil, err
	}
	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at failed: %w", err)
	}
	return &res, nil
}
