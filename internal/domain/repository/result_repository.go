package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
)

// ResultRepository stores one row per execution attempt
type ResultRepository interface {
	Save(ctx context.Context, r *result.Result) error
	Find(ctx context.Context, id string) (*result.Result, error)
	ListByTask(ctx context.Context, taskID string) ([]*result.Result, error)

	// FindLatestByTask returns the most recent result of a task
	FindLatestByTask(ctx context.Context, taskID string) (*result.Result, error)
	Delete(ctx context.Context, id string) error
}
