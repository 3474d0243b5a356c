package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
)

// PlanRepository stores the candidate plans of a task
type PlanRepository interface {
	Find(ctx context.Context, id string) (*plan.Plan, error)
	Save(ctx context.Context, p *plan.Plan) error
	UpdateStatus(ctx context.Context, id string, status plan.Status) error
	Delete(ctx context.Context, id string) error

	// ListByTask returns the plans of a task ordered by creation time
	ListByTask(ctx context.Context, taskID string) ([]*plan.Plan, error)
}
