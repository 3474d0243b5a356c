package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// PlanRepositoryImpl implements repository.PlanRepository with SQLite
type PlanRepositoryImpl struct {
	base
}

// NewPlanRepository creates a new SQLite-based plan repository
func NewPlanRepository(db *sql.DB) *PlanRepositoryImpl {
	return &PlanRepositoryImpl{base{db: db}}
}

const planColumns = `id, task_id, version, approach, reasoning, steps, estimated_duration,
	risks, metadata, status, created_at, updated_at`

// Find retrieves a plan by its ID
func (r *PlanRepositoryImpl) Find(ctx context.Context, id string) (*plan.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = ?`

	p, err := scanPlan(r.getDB(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, repository.ErrNotFound)
	}
	return p, err
}

// Save inserts or replaces a plan
func (r *PlanRepositoryImpl) Save(ctx context.Context, p *plan.Plan) error {
	stepsJSON, err := marshalJSON("steps", p.Steps)
	if err != nil {
		return err
	}
	risksJSON, err := marshalJSON("risks", p.Risks)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON("metadata", p.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plans (id, task_id, version, approach, reasoning, steps, estimated_duration,
		                   risks, metadata, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			approach = excluded.approach,
			reasoning = excluded.reasoning,
			steps = excluded.steps,
			estimated_duration = excluded.estimated_duration,
			risks = excluded.risks,
			metadata = excluded.metadata,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = nowUTC()
	}
	_, err = r.getDB(ctx).ExecContext(ctx, query,
		p.ID, p.TaskID, p.Version, p.Approach, p.Reasoning, stepsJSON, p.EstimatedDuration,
		risksJSON, metadataJSON, string(p.Status), formatTime(p.CreatedAt), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save plan failed: %w", err)
	}
	return nil
}

// UpdateStatus writes only the status column
func (r *PlanRepositoryImpl) UpdateStatus(ctx context.Context, id string, status plan.Status) error {
	res, err := r.getDB(ctx).ExecContext(ctx,
		"UPDATE plans SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(nowUTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update plan status failed: %w", err)
	}
	return requireAffected(res, fmt.Errorf("plan %s: %w", id, repository.ErrNotFound))
}

// Delete removes a plan
func (r *PlanRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.getDB(ctx).ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete plan failed: %w", err)
	}
	return requireAffected(res, fmt.Errorf("plan %s: %w", id, repository.ErrNotFound))
}

// ListByTask returns the plans of a task ordered by creation time
func (r *PlanRepositoryImpl) ListByTask(ctx context.Context, taskID string) ([]*plan.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE task_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.getDB(ctx).QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list plans failed: %w", err)
	}
	defer rows.Close()

	var plans []*plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(row rowScanner) (*plan.Plan, error) {
	var (
		p                                  plan.Plan
		status, createdAt, updatedAt       string
		stepsJSON, risksJSON, metadataJSON string
	)
	err := row.Scan(&p.ID, &p.TaskID, &p.Version, &p.Approach, &p.Reasoning, &stepsJSON,
		&p.EstimatedDuration, &risksJSON, &metadataJSON, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan plan failed: %w", err)
	}

	p.Status = plan.Status(status)
	if err := unmarshalJSON("steps", stepsJSON, &p.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("risks", risksJSON, &p.Risks); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("metadata", metadataJSON, &p.Metadata); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at failed: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at failed: %w", err)
	}
	return &p, nil
}
