package output

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
)

// PlanningAgent produces candidate plans for a task
type PlanningAgent interface {
	// GeneratePlans returns at least one plan. feedback carries the latest
	// rejection rationale when the task is being re-planned, and is empty otherwise.
	GeneratePlans(ctx context.Context, t *task.Task, feedback string) ([]*plan.Plan, error)

	// Name identifies the planner in logs and results
	Name() string
}

// ExecutionAgent runs an approved plan
type ExecutionAgent interface {
	// Execute returns exactly one StepResult per plan step, in plan order
	Execute(ctx context.Context, p *plan.Plan, t *task.Task) (*result.Result, error)

	// Name identifies the executor in logs and results
	Name() string
}
