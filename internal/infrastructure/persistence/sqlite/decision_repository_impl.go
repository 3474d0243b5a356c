package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/decision"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// DecisionRepositoryImpl implements repository.DecisionRepository with SQLite.
// Rows are insert-only.
type DecisionRepositoryImpl struct {
	base
}

// NewDecisionRepository creates a new SQLite-based decision repository
func NewDecisionRepository(db *sql.DB) *DecisionRepositoryImpl {
	return &DecisionRepositoryImpl{base{db: db}}
}

const decisionColumns = `id, task_id, plan_id, category, proposals, selected_option, rationale,
	overrides, decided_by, created_at`

// Create inserts a decision; an existing ID is an error
func (r *DecisionRepositoryImpl) Create(ctx context.Context, d *decision.Decision) error {
	proposalsJSON, err := marshalJSON("proposals", d.Proposals)
	if err != nil {
		return err
	}
	overridesJSON, err := marshalJSON("overrides", d.Overrides)
	if err != nil {
		return err
	}

	var planID sql.NullString
	if d.PlanID != "" {
		planID = sql.NullString{String: d.PlanID, Valid: true}
	}

	query := `INSERT INTO decisions (` + decisionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.getDB(ctx).ExecContext(ctx, query,
		d.ID, d.TaskID, planID, string(d.Category), proposalsJSON, d.SelectedOption,
		d.Rationale, overridesJSON, d.DecidedBy, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create decision failed: %w", err)
	}
	return nil
}

// Find retrieves a decision by its ID
func (r *DecisionRepositoryImpl) Find(ctx context.Context, id string) (*decision.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE id = ?`

	d, err := scanDecision(r.getDB(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, repository.ErrNotFound)
	}
	return d, err
}

// ListByTask returns the decisions of a task, oldest first
func (r *DecisionRepositoryImpl) ListByTask(ctx context.Context, taskID string) ([]*decision.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE task_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.getDB(ctx).QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list decisions failed: %w", err)
	}
	defer rows.Close()

	var decisions []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// Delete removes a decision. Used by administrative cleanup only.
func (r *DecisionRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.getDB(ctx).ExecContext(ctx, "DELETE FROM decisions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete decision failed: %w", err)
	}
	return requireAffected(res, fmt.Errorf("decision %s: %w", id, repository.ErrNotFound))
}

func scanDecision(row rowScanner) (*decision.Decision, error) {
	var (
		d                            decision.Decision
		planID                       sql.NullString
		category, createdAt          string
		proposalsJSON, overridesJSON string
	)
	err := row.Scan(&d.ID, &d.TaskID, &planID, &category, &proposalsJSON, &d.SelectedOption,
		&d.Rationale, &overridesJSON, &d.DecidedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan decision failed: %w", err)
	}

	d.PlanID = planID.String
	d.Category = decision.Category(category)
	if err := unmarshalJSON("proposals", proposalsJSON, &d.Proposals); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("overrides", overridesJSON, &d.Overrides); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at failed: %w", err)
	}
	return &d, nil
}
