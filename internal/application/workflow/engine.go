package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/decision"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/quality"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/validation"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/metrics"
)

// Deps are the collaborators of the engine. Patterns and Storage are optional.
type Deps struct {
	Tasks     repository.TaskRepository
	Plans     repository.PlanRepository
	Decisions repository.DecisionRepository
	Results   repository.ResultRepository

	Planner  output.PlanningAgent
	Executor output.ExecutionAgent
	Patterns output.PatternRecorder
	Storage  output.StorageGateway
	Tx       output.TransactionManager

	StateMachine *wf.StateMachine
	Evaluator    *quality.Evaluator
	Validator    *validation.Validator
	Logger       *zap.Logger
	Now          func() time.Time
}

// Engine drives tasks through the workflow. It is the only component that
// talks to both the state machine and the durable stores: every hop is
// evaluated by the state machine first and the mapped status is written
// exactly once afterwards.
type Engine struct {
	tasks     repository.TaskRepository
	plans     repository.PlanRepository
	decisions repository.DecisionRepository
	results   repository.ResultRepository
	planner   output.PlanningAgent
	executor  output.ExecutionAgent
	patterns  output.PatternRecorder
	storage   output.StorageGateway
	tx        output.TransactionManager
	sm        *wf.StateMachine
	evaluator *quality.Evaluator
	validator *validation.Validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine validates the dependencies and builds an engine
func NewEngine(d Deps) (*Engine, error) {
	switch {
	case d.Tasks == nil || d.Plans == nil || d.Decisions == nil || d.Results == nil:
		return nil, errors.New("engine requires task, plan, decision and result repositories")
	case d.Planner == nil || d.Executor == nil:
		return nil, errors.New("engine requires planning and execution agents")
	case d.Tx == nil:
		return nil, errors.New("engine requires a transaction manager")
	case d.StateMachine == nil:
		return nil, errors.New("engine requires a state machine")
	}

	e := &Engine{
		tasks:     d.Tasks,
		plans:     d.Plans,
		decisions: d.Decisions,
		results:   d.Results,
		planner:   d.Planner,
		executor:  d.Executor,
		patterns:  d.Patterns,
		storage:   d.Storage,
		tx:        d.Tx,
		sm:        d.StateMachine,
		evaluator: d.Evaluator,
		validator: d.Validator,
		logger:    d.Logger,
		now:       d.Now,
	}
	if e.evaluator == nil {
		e.evaluator = quality.NewEvaluator(quality.DefaultMinCoverage)
	}
	if e.validator == nil {
		e.validator = validation.NewValidator()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// CreateTaskWorkflow saves the task, then applies CREATE and START_PLANNING.
// A rejected second hop leaves the task saved in pending; Hops tells the caller.
func (e *Engine) CreateTaskWorkflow(ctx context.Context, t *task.Task) (out *Outcome, err error) {
	start := time.Now()
	defer func() { e.observe("create_task", start, out != nil && out.Success, err) }()

	if t == nil {
		return nil, fmt.Errorf("%w: task is nil", ErrInvalidInput)
	}
	t.Normalize()
	t.Status = model.TaskStatusPending
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := e.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save task %s: %w", t.ID, err)
	}

	out = &Outcome{TaskID: t.ID}
	state, ok, err := e.hop(ctx, out, wf.StateNone, wf.ActionCreate, wf.TransitionContext{TaskID: t.ID})
	if err != nil || !ok {
		return out, err
	}
	if _, _, err := e.hop(ctx, out, state, wf.ActionStartPlanning, wf.TransitionContext{TaskID: t.ID}); err != nil {
		return out, err
	}

	e.logger.Info("task workflow created",
		zap.String("task_id", t.ID),
		zap.String("type", t.Type.String()),
		zap.Int("hops_applied", out.Applied()))
	return out, nil
}

// ProcessTask makes progress on a task up to awaiting_human_decision.
// Pending tasks get START_PLANNING and rejected or failed tasks get RETRY first.
// Either every generated plan is saved and the task is ready for review, or
// none is and the task stays re-enterable.
func (e *Engine) ProcessTask(ctx context.Context, taskID, feedback string) (out *ProcessOutcome, err error) {
	start := time.Now()
	defer func() { e.observe("process_task", start, out != nil && out.Success, err) }()

	t, state, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out = &ProcessOutcome{Outcome: Outcome{TaskID: taskID}}

	tc := wf.TransitionContext{TaskID: taskID}
	retried := false
	switch state {
	case wf.StateTaskCreated:
		state, _, err = e.hop(ctx, &out.Outcome, state, wf.ActionStartPlanning, tc)
	case wf.StatePlanRejected, wf.StateFailed:
		state, _, err = e.hop(ctx, &out.Outcome, state, wf.ActionRetry, tc)
		retried = true
	}
	if err != nil {
		return out, err
	}
	if !wf.CanTransition(state, wf.ActionProposalsReady) {
		e.hop(ctx, &out.Outcome, state, wf.ActionProposalsReady, tc)
		return out, nil
	}

	if feedback == "" {
		feedback = e.latestRejection(ctx, taskID)
	}

	plans, err := e.planner.GeneratePlans(ctx, t, feedback)
	if err != nil {
		return out, fmt.Errorf("%w: planner %s: %v", ErrCollaboratorFailure, e.planner.Name(), err)
	}
	if len(plans) == 0 {
		return out, fmt.Errorf("%w: planner %s produced no plans", ErrCollaboratorFailure, e.planner.Name())
	}

	now := e.now()
	for i, p := range plans {
		if p.ID == "" {
			p.ID = model.NewID(model.PrefixPlan)
		}
		p.TaskID = taskID
		p.Status = plan.StatusProposed
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if err := p.Validate(); err != nil {
			return out, fmt.Errorf("%w: plan %d from %s: %v", ErrCollaboratorFailure, i, e.planner.Name(), err)
		}
	}

	err = e.tx.InTransaction(ctx, func(txCtx context.Context) error {
		for _, p := range plans {
			if err := e.plans.Save(txCtx, p); err != nil {
				return fmt.Errorf("save plan %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return out, err
	}

	if _, _, err := e.hop(ctx, &out.Outcome, state, wf.ActionProposalsReady, tc); err != nil {
		return out, err
	}
	out.Plans = plans

	e.logger.Info("proposals ready",
		zap.String("task_id", taskID),
		zap.Int("plans", len(plans)),
		zap.Bool("retried", retried))
	return out, nil
}

// RecordDecision saves a human decision, applies APPROVE or REJECT and marks
// the referenced plan. Pattern recording never affects the outcome.
func (e *Engine) RecordDecision(ctx context.Context, d *decision.Decision, decidedBy string) (out *DecisionOutcome, err error) {
	start := time.Now()
	defer func() { e.observe("record_decision", start, out != nil && out.Success, err) }()

	if d == nil {
		return nil, fmt.Errorf("%w: decision is nil", ErrInvalidInput)
	}
	if d.ID == "" {
		d.ID = model.NewID(model.PrefixDecision)
	}
	if decidedBy != "" {
		d.DecidedBy = decidedBy
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now()
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	t, state, err := e.loadTask(ctx, d.TaskID)
	if err != nil {
		return nil, err
	}

	var p *plan.Plan
	if d.PlanID != "" {
		if p, err = e.loadPlan(ctx, d.PlanID, d.TaskID); err != nil {
			return nil, err
		}
	}

	approved := d.IsApproval()
	action := wf.ActionReject
	tc := wf.TransitionContext{TaskID: d.TaskID, Reason: d.Rationale}
	if approved {
		action = wf.ActionApprove
		tc = wf.TransitionContext{TaskID: d.TaskID, PlanID: d.PlanID}
	}
	tc.Metadata = map[string]string{"decision_id": d.ID, "decided_by": d.DecidedBy}

	out = &DecisionOutcome{Outcome: Outcome{TaskID: d.TaskID}, DecisionID: d.ID, Approved: approved}
	if !wf.CanTransition(state, action) {
		e.hop(ctx, &out.Outcome, state, action, tc)
		return out, nil
	}
	if p != nil && p.Status != plan.StatusProposed {
		out.Error = fmt.Sprintf("plan %s is %s, not proposed", p.ID, p.Status)
		e.logger.Warn("decision on a closed plan refused",
			zap.String("task_id", d.TaskID),
			zap.String("plan_id", p.ID),
			zap.String("plan_status", string(p.Status)))
		return out, nil
	}

	if err := e.decisions.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	if _, ok, err := e.hop(ctx, &out.Outcome, state, action, tc); err != nil || !ok {
		return out, err
	}

	now := e.now()
	switch {
	case approved:
		p.MarkApproved(d.DecidedBy, now)
		if err = e.plans.Save(ctx, p); err == nil {
			err = e.rejectProposedPlans(ctx, d.TaskID)
		}
	case p != nil:
		p.MarkRejected(now)
		if err = e.plans.Save(ctx, p); err == nil {
			err = e.rejectProposedPlans(ctx, d.TaskID)
		}
	default:
		err = e.rejectProposedPlans(ctx, d.TaskID)
	}
	if err != nil {
		return out, fmt.Errorf("mark plan for decision %s: %w", d.ID, err)
	}

	e.recordPattern(ctx, t, p, d, approved)

	e.logger.Info("decision recorded",
		zap.String("task_id", d.TaskID),
		zap.String("decision_id", d.ID),
		zap.String("plan_id", d.PlanID),
		zap.Bool("approved", approved))
	return out, nil
}

// ExecuteApprovedPlan applies START_EXECUTION and marks the plan executing.
// Nothing is run here; see RunExecution.
func (e *Engine) ExecuteApprovedPlan(ctx context.Context, planID, taskID string) (out *Outcome, err error) {
	start := time.Now()
	defer func() { e.observe("execute_plan", start, out != nil && out.Success, err) }()

	_, state, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	p, err := e.loadPlan(ctx, planID, taskID)
	if err != nil {
		return nil, err
	}

	out = &Outcome{TaskID: taskID}
	if p.Status != plan.StatusApproved {
		out.Error = fmt.Sprintf("plan %s is %s, not approved", planID, p.Status)
		return out, nil
	}

	_, ok, err := e.hop(ctx, out, state, wf.ActionStartExecution, wf.TransitionContext{TaskID: taskID, PlanID: planID})
	if err != nil || !ok {
		return out, err
	}
	if err := e.plans.UpdateStatus(ctx, planID, plan.StatusExecuting); err != nil {
		return out, fmt.Errorf("mark plan %s executing: %w", planID, err)
	}
	return out, nil
}

// RunExecution validates the plan, runs the execution agent and records the result
func (e *Engine) RunExecution(ctx context.Context, planID, taskID string) (out *ResultOutcome, err error) {
	start := time.Now()
	defer func() { e.observe("run_execution", start, out != nil && out.Success, err) }()

	t, state, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	p, err := e.loadPlan(ctx, planID, taskID)
	if err != nil {
		return nil, err
	}

	if !wf.CanTransition(state, wf.ActionExecutionComplete) {
		out = &ResultOutcome{Outcome: Outcome{TaskID: taskID}}
		e.hop(ctx, &out.Outcome, state, wf.ActionExecutionComplete, wf.TransitionContext{TaskID: taskID})
		return out, nil
	}

	check := e.validator.Validate(p, t)
	for _, w := range check.Warnings {
		e.logger.Warn("plan validation warning",
			zap.String("plan_id", planID),
			zap.String("field", w.Field),
			zap.String("message", w.Message))
	}
	if !check.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(check.ErrorMessages(), "; "))
	}

	r, err := e.executor.Execute(ctx, p, t)
	if err != nil {
		return nil, fmt.Errorf("%w: executor %s: %v", ErrCollaboratorFailure, e.executor.Name(), err)
	}
	if r == nil || len(r.Steps) != len(p.Steps) {
		got := 0
		if r != nil {
			got = len(r.Steps)
		}
		return nil, fmt.Errorf("%w: executor %s returned %d step results for %d steps",
			ErrCollaboratorFailure, e.executor.Name(), got, len(p.Steps))
	}
	for i, s := range r.Steps {
		if s.StepID != p.Steps[i].ID {
			return nil, fmt.Errorf("%w: executor %s returned step %s at position %d, want %s",
				ErrCollaboratorFailure, e.executor.Name(), s.StepID, i, p.Steps[i].ID)
		}
	}

	return e.RecordResult(ctx, r)
}

// RecordResult merges the quality gates into the result, saves it and applies
// EXECUTION_COMPLETE. Logs are archived best-effort.
func (e *Engine) RecordResult(ctx context.Context, r *result.Result) (out *ResultOutcome, err error) {
	start := time.Now()
	defer func() { e.observe("record_result", start, out != nil && out.Success, err) }()

	if r == nil {
		return nil, fmt.Errorf("%w: result is nil", ErrInvalidInput)
	}
	if r.ID == "" {
		r.ID = model.NewID(model.PrefixResult)
	}
	if r.Status == "" {
		r.Status = r.DeriveStatus()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.now()
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	_, state, err := e.loadTask(ctx, r.TaskID)
	if err != nil {
		return nil, err
	}

	tc := wf.TransitionContext{TaskID: r.TaskID, PlanID: r.PlanID, ResultID: r.ID}
	out = &ResultOutcome{Outcome: Outcome{TaskID: r.TaskID}, ResultID: r.ID}
	if !wf.CanTransition(state, wf.ActionExecutionComplete) {
		e.hop(ctx, &out.Outcome, state, wf.ActionExecutionComplete, tc)
		return out, nil
	}

	r.QualityGates = mergeGates(r.QualityGates, e.evaluator.Evaluate(r))
	for _, c := range r.QualityGates.Checks {
		if !c.Passed {
			metrics.QualityGateFailures.WithLabelValues(c.Name).Inc()
		}
	}

	if err := e.results.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("save result %s: %w", r.ID, err)
	}
	if _, ok, err := e.hop(ctx, &out.Outcome, state, wf.ActionExecutionComplete, tc); err != nil || !ok {
		return out, err
	}
	out.Result = r

	planStatus := plan.StatusFailed
	if r.Status == result.StatusSuccess {
		planStatus = plan.StatusCompleted
	}
	if err := e.plans.UpdateStatus(ctx, r.PlanID, planStatus); err != nil {
		return out, fmt.Errorf("mark plan %s %s: %w", r.PlanID, planStatus, err)
	}

	e.archiveLogs(ctx, r)

	e.logger.Info("execution result recorded",
		zap.String("task_id", r.TaskID),
		zap.String("result_id", r.ID),
		zap.String("status", string(r.Status)),
		zap.Bool("quality_gates_passed", r.QualityGates.Passed))
	return out, nil
}

// VerifyResult applies VERIFY_SUCCESS or VERIFY_FAILURE
func (e *Engine) VerifyResult(ctx context.Context, taskID string, verified bool, reason string) (out *Outcome, err error) {
	start := time.Now()
	defer func() { e.observe("verify_result", start, out != nil && out.Success, err) }()

	_, state, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	action := wf.ActionVerifyFailure
	if verified {
		action = wf.ActionVerifySuccess
	}
	out = &Outcome{TaskID: taskID}
	_, _, err = e.hop(ctx, out, state, action, wf.TransitionContext{TaskID: taskID, Reason: reason})
	return out, err
}

// RetryTask applies RETRY from plan_rejected or failed
func (e *Engine) RetryTask(ctx context.Context, taskID string) (out *Outcome, err error) {
	start := time.Now()
	defer func() { e.observe("retry_task", start, out != nil && out.Success, err) }()

	_, state, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out = &Outcome{TaskID: taskID}
	_, _, err = e.hop(ctx, out, state, wf.ActionRetry, wf.TransitionContext{TaskID: taskID})
	return out, err
}

// FailTask applies FAIL from any non-terminal state. A reason is mandatory.
func (e *Engine) FailTask(ctx context.Context, taskID, reason string) (out *Outcome, err error) {
	start := time.Now()
	defer func() { e.observe("fail_task", start, out != nil && out.Success, err) }()

	_, state, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out = &Outcome{TaskID: taskID}
	if strings.TrimSpace(reason) == "" {
		out.Error = "reason is required to fail a task"
		return out, nil
	}

	_, ok, err := e.hop(ctx, out, state, wf.ActionFail, wf.TransitionContext{TaskID: taskID, Reason: reason})
	if ok {
		e.logger.Warn("task failed manually",
			zap.String("task_id", taskID),
			zap.String("from", state.String()),
			zap.String("reason", reason))
	}
	return out, err
}

// WorkflowState returns the workflow state derived from the durable status
func (e *Engine) WorkflowState(ctx context.Context, taskID string) (wf.State, error) {
	_, state, err := e.loadTask(ctx, taskID)
	return state, err
}

// ValidActions lists the actions available to a task right now
func (e *Engine) ValidActions(ctx context.Context, taskID string) ([]wf.Action, error) {
	state, err := e.WorkflowState(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.sm.ValidActions(state), nil
}

// TransitionHistory returns the in-process history of a task. It is a
// diagnostic trail; the durable status is the source of truth.
func (e *Engine) TransitionHistory(taskID string) []wf.Event {
	return e.sm.History(taskID)
}

// hop evaluates one transition, records it in out and, on success, writes the
// mapped durable status. A store failure is returned as an error.
func (e *Engine) hop(ctx context.Context, out *Outcome, state wf.State, action wf.Action, tc wf.TransitionContext) (wf.State, bool, error) {
	res := e.sm.Transition(state, action, tc)
	h := HopResult{Action: action, From: state, Success: res.Success}

	if !res.Success {
		h.Error = res.Error()
		h.Code = res.Err.Code
		out.Hops = append(out.Hops, h)
		out.Success = false
		out.Error = h.Error

		outcome := "guard_failed"
		if res.Err.Code == wf.CodeInvalidTransition {
			outcome = "invalid_transition"
		}
		metrics.RecordTransition(action.String(), outcome)
		e.logger.Info("transition rejected",
			zap.String("task_id", tc.TaskID),
			zap.String("action", action.String()),
			zap.String("state", state.String()),
			zap.String("code", res.Err.Code),
			zap.String("reason", h.Error))
		return state, false, nil
	}
	metrics.RecordTransition(action.String(), "success")

	h.To = res.To
	status, err := wf.WorkflowStateToTaskStatus(res.To)
	if err != nil {
		return state, false, err
	}
	h.Status = status
	out.Hops = append(out.Hops, h)

	if err := e.tasks.UpdateStatus(ctx, tc.TaskID, status); err != nil {
		out.Success = false
		out.Error = err.Error()
		return res.To, false, fmt.Errorf("persist status %s for task %s: %w", status, tc.TaskID, err)
	}
	out.Success = true
	out.Error = ""

	e.logger.Debug("transition applied",
		zap.String("task_id", tc.TaskID),
		zap.String("action", action.String()),
		zap.String("from", state.String()),
		zap.String("to", res.To.String()))
	return res.To, true, nil
}

func (e *Engine) loadTask(ctx context.Context, taskID string) (*task.Task, wf.State, error) {
	t, err := e.tasks.Find(ctx, taskID)
	if err != nil {
		return nil, wf.StateNone, fmt.Errorf("load task %s: %w", taskID, err)
	}
	state, err := wf.TaskStatusToWorkflowState(t.Status)
	if err != nil {
		return nil, wf.StateNone, fmt.Errorf("task %s: %w", taskID, err)
	}
	return t, state, nil
}

func (e *Engine) loadPlan(ctx context.Context, planID, taskID string) (*plan.Plan, error) {
	p, err := e.plans.Find(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	if p.TaskID != taskID {
		return nil, fmt.Errorf("%w: plan %s belongs to task %s, not %s", ErrInvalidInput, planID, p.TaskID, taskID)
	}
	return p, nil
}

// latestRejection returns the rationale of the task's most recent decision
// when that decision was a rejection.
func (e *Engine) latestRejection(ctx context.Context, taskID string) string {
	decisions, err := e.decisions.ListByTask(ctx, taskID)
	if err != nil {
		e.logger.Warn("could not load previous decisions", zap.String("task_id", taskID), zap.Error(err))
		return ""
	}
	if n := len(decisions); n > 0 && !decisions[n-1].IsApproval() {
		return decisions[n-1].Rationale
	}
	return ""
}

func (e *Engine) rejectProposedPlans(ctx context.Context, taskID string) error {
	plans, err := e.plans.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if p.Status == plan.StatusProposed {
			if err := e.plans.UpdateStatus(ctx, p.ID, plan.StatusRejected); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) observe(op string, start time.Time, success bool, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case !success:
		status = "rejected"
	}
	metrics.ObserveOperation(op, status, start)
}

// mergeGates lets evaluator checks replace executor-supplied checks of the same name
func mergeGates(existing, evaluated result.QualityGates) result.QualityGates {
	merged := result.QualityGates{Passed: true}
	seen := make(map[string]bool, len(evaluated.Checks))
	for _, c := range evaluated.Checks {
		seen[c.Name] = true
	}
	for _, c := range existing.Checks {
		if !seen[c.Name] {
			merged.Checks = append(merged.Checks, c)
		}
	}
	merged.Checks = append(merged.Checks, evaluated.Checks...)
	for _, c := range merged.Checks {
		if !c.Passed {
			merged.Passed = false
		}
	}
	return merged
}
