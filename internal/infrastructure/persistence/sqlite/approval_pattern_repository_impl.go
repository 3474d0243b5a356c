package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// ApprovalPatternRepositoryImpl implements repository.ApprovalPatternRepository with SQLite
type ApprovalPatternRepositoryImpl struct {
	base
}

// NewApprovalPatternRepository creates a new SQLite-based approval pattern repository
func NewApprovalPatternRepository(db *sql.DB) *ApprovalPatternRepositoryImpl {
	return &ApprovalPatternRepositoryImpl{base{db: db}}
}

// Save inserts one observation
func (r *ApprovalPatternRepositoryImpl) Save(ctx context.Context, p *repository.ApprovalPattern) error {
	query := `
		INSERT INTO approval_patterns (id, category, approach, approved, minutes_to_decision,
		                               rejection_reason, project_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.getDB(ctx).ExecContext(ctx, query,
		p.ID, p.Category, p.Approach, p.Approved, p.MinutesToDecision,
		p.RejectionReason, p.ProjectID, formatTime(p.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("save approval pattern failed: %w", err)
	}
	return nil
}

// List returns observations matching the filter, newest first
func (r *ApprovalPatternRepositoryImpl) List(ctx context.Context, filter repository.ApprovalPatternFilter) ([]*repository.ApprovalPattern, error) {
	query := `
		SELECT id, category, approach, approved, minutes_to_decision, rejection_reason,
		       project_id, recorded_at
		FROM approval_patterns
		WHERE 1=1
	`
	args := []interface{}{}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Approach != "" {
		query += " AND approach = ?"
		args = append(args, filter.Approach)
	}
	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.getDB(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval patterns failed: %w", err)
	}
	defer rows.Close()

	var patterns []*repository.ApprovalPattern
	for rows.Next() {
		var (
			p          repository.ApprovalPattern
			recordedAt string
		)
		if err := rows.Scan(&p.ID, &p.Category, &p.Approach, &p.Approved, &p.MinutesToDecision,
			&p.RejectionReason, &p.ProjectID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan approval pattern failed: %w", err)
		}
		if p.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at failed: %w", err)
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}
