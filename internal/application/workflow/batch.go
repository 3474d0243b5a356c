package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/application/service"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// MaxBatchParallel caps concurrent tasks per batch; SQLite serialises writers anyway
const MaxBatchParallel = 10

// Skip reasons reported by a batch
const (
	SkipFileConflict = "file conflict"
	SkipAgentBusy    = "agent busy"
	SkipNoPlan       = "no approved plan"
	SkipCancelled    = "cancelled"
)

// BatchItem is the outcome for one task of a batch
type BatchItem struct {
	TaskID     string   `json:"task_id"`
	Skipped    bool     `json:"skipped,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Outcome    *Outcome `json:"outcome,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Succeeded reports whether the task ran and every hop was applied
func (i BatchItem) Succeeded() bool {
	return !i.Skipped && i.Error == "" && i.Outcome != nil && i.Outcome.Success
}

// BatchReport summarises one batch
type BatchReport struct {
	Items     []BatchItem   `json:"items"`
	Started   int           `json:"started"`
	Skipped   int           `json:"skipped"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func (r *BatchReport) tally() {
	for _, item := range r.Items {
		switch {
		case item.Skipped:
			r.Skipped++
		case item.Succeeded():
			r.Started++
			r.Succeeded++
		default:
			r.Started++
			r.Failed++
		}
	}
}

// BatchRunner runs engine operations for several tasks at once. Each task is
// still driven by one sequential call chain; only different tasks overlap.
type BatchRunner struct {
	engine      *Engine
	maxParallel int
	pool        *service.AgentPool
	logger      *zap.Logger
}

// NewBatchRunner creates a batch runner. pool may be nil.
func NewBatchRunner(engine *Engine, maxParallel int, pool *service.AgentPool) *BatchRunner {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if maxParallel > MaxBatchParallel {
		maxParallel = MaxBatchParallel
	}
	return &BatchRunner{
		engine:      engine,
		maxParallel: maxParallel,
		pool:        pool,
		logger:      engine.logger.Named("batch"),
	}
}

// PlanPending runs ProcessTask for tasks waiting on proposals: pending,
// planning (including those whose planner failed) and rejected
func (b *BatchRunner) PlanPending(ctx context.Context, limit int) (*BatchReport, error) {
	tasks, err := b.engine.tasks.List(ctx, repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskStatusPending, model.TaskStatusPlanning, model.TaskStatusRejected},
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list plannable tasks: %w", err)
	}

	return b.run(ctx, tasks, nil, func(ctx context.Context, t *task.Task) (*Outcome, error) {
		out, err := b.engine.ProcessTask(ctx, t.ID, "")
		if out == nil {
			return nil, err
		}
		return &out.Outcome, err
	}), nil
}

// ExecuteApproved starts and runs the approved plan of every approved task.
// Tasks sharing context files never run together.
func (b *BatchRunner) ExecuteApproved(ctx context.Context, limit int) (*BatchReport, error) {
	tasks, err := b.engine.tasks.List(ctx, repository.TaskFilter{
		Statuses: []model.TaskStatus{model.TaskStatusApproved},
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list approved tasks: %w", err)
	}

	return b.run(ctx, tasks, service.NewConflictDetector(), func(ctx context.Context, t *task.Task) (*Outcome, error) {
		p, err := b.approvedPlan(ctx, t.ID)
		if err != nil {
			return nil, err
		}

		started, err := b.engine.ExecuteApprovedPlan(ctx, p.ID, t.ID)
		if err != nil || !started.Success {
			return started, err
		}

		ran, err := b.engine.RunExecution(ctx, p.ID, t.ID)
		combined := &Outcome{TaskID: t.ID, Success: true, Hops: append([]HopResult(nil), started.Hops...)}
		if ran != nil {
			combined.Hops = append(combined.Hops, ran.Hops...)
			combined.Success = ran.Success
			combined.Error = ran.Error
		}
		return combined, err
	}), nil
}

var errNoApprovedPlan = errors.New(SkipNoPlan)

func (b *BatchRunner) approvedPlan(ctx context.Context, taskID string) (*plan.Plan, error) {
	plans, err := b.engine.plans.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for i := len(plans) - 1; i >= 0; i-- {
		if plans[i].Status == plan.StatusApproved {
			return plans[i], nil
		}
	}
	return nil, errNoApprovedPlan
}

type batchOp func(ctx context.Context, t *task.Task) (*Outcome, error)

func (b *BatchRunner) run(ctx context.Context, tasks []*task.Task, conflicts *service.ConflictDetector, op batchOp) *BatchReport {
	start := time.Now()
	report := &BatchReport{Items: make([]BatchItem, len(tasks))}
	agent := b.engine.executor.Name()

	var wg sync.WaitGroup
	sem := make(chan struct{}, b.maxParallel)

	for i, t := range tasks {
		report.Items[i] = BatchItem{TaskID: t.ID}

		if ctx.Err() != nil {
			report.Items[i].Skipped, report.Items[i].SkipReason = true, SkipCancelled
			continue
		}
		if conflicts != nil {
			if holder := conflicts.TryRegister(t); holder != "" {
				b.logger.Info("task skipped", zap.String("task_id", t.ID),
					zap.String("reason", SkipFileConflict), zap.String("held_by", holder))
				report.Items[i].Skipped, report.Items[i].SkipReason = true, SkipFileConflict
				continue
			}
		}
		if b.pool != nil && conflicts != nil && !b.pool.TryAcquire(agent) {
			conflicts.Unregister(t)
			b.logger.Info("task skipped", zap.String("task_id", t.ID),
				zap.String("reason", SkipAgentBusy), zap.String("agent", agent))
			report.Items[i].Skipped, report.Items[i].SkipReason = true, SkipAgentBusy
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, t *task.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			if conflicts != nil {
				defer conflicts.Unregister(t)
				if b.pool != nil {
					defer b.pool.Release(agent)
				}
			}

			out, err := op(ctx, t)
			item := &report.Items[i]
			item.Outcome = out
			switch {
			case errors.Is(err, errNoApprovedPlan):
				item.Skipped, item.SkipReason = true, SkipNoPlan
			case err != nil:
				item.Error = err.Error()
				b.logger.Warn("batch task failed", zap.String("task_id", t.ID), zap.Error(err))
			}
		}(i, t)
	}
	wg.Wait()

	report.tally()
	report.Duration = time.Since(start)
	b.logger.Info("batch finished",
		zap.Int("tasks", len(tasks)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration))
	return report
}
