package repository

import (
	"context"
	"errors"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
)

// ErrNotFound is returned (wrapped) by every Find when the row does not exist
var ErrNotFound = errors.New("not found")

// TaskRepository is the durable task store. It owns the status column the
// workflow engine reads and writes.
type TaskRepository interface {
	// Find retrieves a task by its ID
	Find(ctx context.Context, id string) (*task.Task, error)

	// Save inserts or replaces a task
	Save(ctx context.Context, t *task.Task) error

	// UpdateStatus writes only the status column
	UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error

	// Delete removes a task
	Delete(ctx context.Context, id string) error

	// List retrieves tasks by filter criteria
	List(ctx context.Context, filter TaskFilter) ([]*task.Task, error)
}

// TaskFilter defines criteria for filtering tasks
type TaskFilter struct {
	Types        []model.TaskType   // Filter by task types
	Statuses     []model.TaskStatus // Filter by durable statuses
	RepositoryID string             // Filter by context.repository_id
	Limit        int                // Limit number of results
	Offset       int                // Offset for pagination
}
