package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// TaskRepositoryImpl implements repository.TaskRepository with SQLite
type TaskRepositoryImpl struct {
	base
}

// NewTaskRepository creates a new SQLite-based task repository
func NewTaskRepository(db *sql.DB) *TaskRepositoryImpl {
	return &TaskRepositoryImpl{base{db: db}}
}

const taskColumns = `id, version, type, description, context, constraints, metadata, intent, status, updated_at`

// Find retrieves a task by its ID
func (r *TaskRepositoryImpl) Find(ctx context.Context, id string) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	t, err := scanTask(r.getDB(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, repository.ErrNotFound)
	}
	return t, err
}

// Save inserts or replaces a task
func (r *TaskRepositoryImpl) Save(ctx context.Context, t *task.Task) error {
	contextJSON, err := marshalJSON("context", t.Context)
	if err != nil {
		return err
	}
	constraintsJSON, err := marshalJSON("constraints", t.Constraints)
	if err != nil {
		return err
	}
	metadataJSON, err := marshalJSON("metadata", t.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, version, type, description, repository_id, context, constraints,
		                   metadata, intent, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			type = excluded.type,
			description = excluded.description,
			repository_id = excluded.repository_id,
			context = excluded.context,
			constraints = excluded.constraints,
			metadata = excluded.metadata,
			intent = excluded.intent,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err = r.getDB(ctx).ExecContext(ctx, query,
		t.ID, t.Version, string(t.Type), t.Description, t.Context.RepositoryID,
		contextJSON, constraintsJSON, metadataJSON, t.Intent, string(t.Status),
		formatTime(t.Metadata.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save task failed: %w", err)
	}
	return nil
}

// UpdateStatus writes only the status column
func (r *TaskRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	res, err := r.getDB(ctx).ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(nowUTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update task status failed: %w", err)
	}
	return requireAffected(res, fmt.Errorf("task %s: %w", id, repository.ErrNotFound))
}

// Delete removes a task
func (r *TaskRepositoryImpl) Delete(ctx context.Context, id string) error {
	res, err := r.getDB(ctx).ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task failed: %w", err)
	}
	return requireAffected(res, fmt.Errorf("task %s: %w", id, repository.ErrNotFound))
}

// List retrieves tasks by filter criteria, oldest first
func (r *TaskRepositoryImpl) List(ctx context.Context, filter repository.TaskFilter) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}

	if len(filter.Types) > 0 {
		query += " AND type IN (" + placeholders(len(filter.Types)) + ")"
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if len(filter.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(filter.Statuses)) + ")"
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if filter.RepositoryID != "" {
		query += " AND repository_id = ?"
		args = append(args, filter.RepositoryID)
	}

	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.getDB(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks failed: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                                         task.Task
		taskType, status, updatedAt               string
		contextJSON, constraintsJSON, metadataJSON string
	)
	err := row.Scan(&t.ID, &t.Version, &taskType, &t.Description,
		&contextJSON, &constraintsJSON, &metadataJSON, &t.Intent, &status, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task failed: %w", err)
	}

	t.Type = model.TaskType(taskType)
	t.Status = model.TaskStatus(status)
	if err := unmarshalJSON("context", contextJSON, &t.Context); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("constraints", constraintsJSON, &t.Constraints); err != nil {
		return nil, err
	}
	if err := unmarshalJSON("metadata", metadataJSON, &t.Metadata); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at failed: %w", err)
	}
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
