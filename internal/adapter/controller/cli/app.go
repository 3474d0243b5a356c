package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/application/service"
	"github.com/YoshitsuguKoike/deeflow/internal/application/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
)

// GlobalOptions are the persistent flags shared by every command
type GlobalOptions struct {
	ConfigFile string
	Output     string
}

// App is everything a command needs once the process is wired
type App struct {
	Engine   *workflow.Engine
	Batch    *workflow.BatchRunner
	Tasks    repository.TaskRepository
	Plans    repository.PlanRepository
	Results  repository.ResultRepository
	Patterns *service.ApprovalPatternService

	// Storage is nil when archiving is disabled
	Storage output.StorageGateway

	// History returns the recorded transitions of a task
	History func(taskID string) ([]wf.Event, error)

	WatchInterval   time.Duration
	MetricsTextfile string
	Logger          *zap.Logger
}

// Bootstrap wires an App. The returned closer releases what it opened.
type Bootstrap func(ctx context.Context, opts GlobalOptions) (*App, func() error, error)

// ErrStorageDisabled is returned by artifact commands without a configured backend
var ErrStorageDisabled = errors.New("artifact storage is disabled (set storage.type)")

// session holds the App of the running command. Controllers are built
// before flags are parsed, so they reach the App through it.
type session struct {
	app       *App
	presenter output.Presenter
	closer    func() error
}

// ErrNotApplied reports an outcome whose transitions were rejected
var ErrNotApplied = errors.New("transition not applied")

// report presents a successful outcome as data, or its hops and the
// rejection as an error.
func (s *session) report(message string, data interface{}, o *workflow.Outcome) error {
	if o == nil || o.Success {
		return s.presenter.PresentSuccess(message, data)
	}
	for _, v := range presenter.TransitionViews(o) {
		if err := s.presenter.PresentTransition(v); err != nil {
			return err
		}
	}
	return s.presenter.PresentError(fmt.Errorf("task %s: %w: %s", o.TaskID, ErrNotApplied, o.Error))
}

// latestPlan returns the newest plan of the task in one of the statuses
func (s *session) latestPlan(ctx context.Context, taskID string, statuses ...plan.Status) (*plan.Plan, error) {
	plans, err := s.app.Plans.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for i := len(plans) - 1; i >= 0; i-- {
		for _, st := range statuses {
			if plans[i].Status == st {
				return plans[i], nil
			}
		}
	}
	return nil, fmt.Errorf("task %s has no %s plan: %w", taskID, statuses[0], repository.ErrNotFound)
}
