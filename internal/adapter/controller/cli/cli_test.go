package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/agent"
	"github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/deeflow/internal/application/service"
	"github.com/YoshitsuguKoike/deeflow/internal/application/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/repository/mock"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/transaction"
)

type testApp struct {
	*App
	plans   *mock.MockPlanRepository
	storage *storage.MemoryStorageGateway
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	tasks := mock.NewMockTaskRepository()
	plans := mock.NewMockPlanRepository()
	results := mock.NewMockResultRepository()

	planner, err := agent.NewPlanningAgent(agent.PlannerHeuristic, 3)
	require.NoError(t, err)
	executor, err := agent.NewExecutionAgent(agent.ExecutorSimulated, agent.ExecutorConfig{})
	require.NoError(t, err)

	patterns := service.NewApprovalPatternService(mock.NewMockApprovalPatternRepository(), zap.NewNop())
	store := storage.NewMemoryStorageGateway()

	engine, err := workflow.NewEngine(workflow.Deps{
		Tasks:        tasks,
		Plans:        plans,
		Decisions:    mock.NewMockDecisionRepository(),
		Results:      results,
		Planner:      planner,
		Executor:     executor,
		Patterns:     patterns,
		Storage:      store,
		Tx:           transaction.NewMockTransactionManager(tasks, plans),
		StateMachine: wf.NewStateMachine(),
	})
	require.NoError(t, err)

	return &testApp{
		App: &App{
			Engine:        engine,
			Batch:         workflow.NewBatchRunner(engine, 2, service.NewAgentPool(map[string]int{agent.ExecutorSimulated: 2})),
			Tasks:         tasks,
			Plans:         plans,
			Results:       results,
			Patterns:      patterns,
			Storage:       store,
			History:       func(taskID string) ([]wf.Event, error) { return engine.TransitionHistory(taskID), nil },
			WatchInterval: 10 * time.Millisecond,
			Logger:        zap.NewNop(),
		},
		plans:   plans,
		storage: store,
	}
}

func execute(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), app, args...)
}

func executeContext(t *testing.T, ctx context.Context, app *App, args ...string) (string, error) {
	t.Helper()
	b := NewRootBuilder(func(context.Context, GlobalOptions) (*App, func() error, error) {
		return app, nil, nil
	}, "1.2.3", "test")
	cmd := b.Build()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	require.NoError(t, b.Close())
	return buf.String(), err
}

func createTask(t *testing.T, app *testApp, files ...string) *task.Task {
	t.Helper()
	if len(files) == 0 {
		files = []string{"api/limit.go"}
	}
	args := []string{"task", "create", "--type", "feature", "-d", "Add rate limiting", "--repo", "acme/api"}
	for _, f := range files {
		args = append(args, "--files", f)
	}
	out, err := execute(t, app.App, args...)
	require.NoError(t, err, out)

	tasks, err := app.Tasks.List(context.Background(), repository.TaskFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	return tasks[len(tasks)-1]
}

func TestVersionSkipsBootstrap(t *testing.T) {
	b := NewRootBuilder(func(context.Context, GlobalOptions) (*App, func() error, error) {
		t.Fatal("bootstrap must not run for version")
		return nil, nil, nil
	}, "1.2.3", "abc123")
	cmd := b.Build()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version", "-o", "json"})

	require.NoError(t, cmd.Execute())

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	data := m["data"].(map[string]interface{})
	assert.Equal(t, "1.2.3", data["version"])
	assert.Equal(t, "abc123", data["buildInfo"])
}

func TestBootstrapError(t *testing.T) {
	b := NewRootBuilder(func(context.Context, GlobalOptions) (*App, func() error, error) {
		return nil, nil, errors.New("database locked")
	}, "dev", "")
	cmd := b.Build()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"task", "list"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "initialize: database locked")
	assert.Contains(t, buf.String(), "✗ Error: initialize: database locked")
}

func TestBootstrapReceivesGlobalOptions(t *testing.T) {
	app := newTestApp(t)
	var got GlobalOptions
	closed := false
	b := NewRootBuilder(func(_ context.Context, opts GlobalOptions) (*App, func() error, error) {
		got = opts
		return app.App, func() error { closed = true; return nil }, nil
	}, "dev", "")
	cmd := b.Build()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"task", "list", "--config", "/etc/deeflow.yaml", "-o", "json"})

	require.NoError(t, cmd.Execute())
	require.NoError(t, b.Close())
	assert.Equal(t, GlobalOptions{ConfigFile: "/etc/deeflow.yaml", Output: "json"}, got)
	assert.True(t, closed)
}

func TestFullWorkflow(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tk := createTask(t, app)
	assert.Equal(t, model.TaskStatusPlanning, tk.Status)

	out, err := execute(t, app.App, "workflow", "process", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "3 proposals ready for review")

	plans, err := app.Plans.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	out, err = execute(t, app.App, "workflow", "approve", tk.ID, "--plan", plans[1].ID, "--rationale", "smallest diff", "--by", "alice")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Plan approved")
	assert.Contains(t, out, "(approved)")

	out, err = execute(t, app.App, "workflow", "execute", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "START_EXECUTION: plan_approved → executing")
	assert.Contains(t, out, "EXECUTION_COMPLETE: executing → awaiting_verification")

	out, err = execute(t, app.App, "workflow", "verify", tk.ID, "--reason", "looks right")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Task completed")

	out, err = execute(t, app.App, "workflow", "state", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Workflow State: completed")

	out, err = execute(t, app.App, "workflow", "history", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "7 transitions")

	p, err := app.Plans.Find(ctx, plans[1].ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, p.Status)
	assert.Equal(t, "alice", p.Metadata.ApprovedBy)
}

func TestApproveUnknownPlan(t *testing.T) {
	app := newTestApp(t)
	tk := createTask(t, app)
	_, err := execute(t, app.App, "workflow", "process", tk.ID)
	require.NoError(t, err)

	out, err := execute(t, app.App, "workflow", "approve", tk.ID, "--plan", "PLAN-NOPE")
	assert.ErrorContains(t, err, `plan "PLAN-NOPE" is not a proposal`)
	assert.Contains(t, out, "✗ Error")
}

func TestRejectRequiresRationale(t *testing.T) {
	app := newTestApp(t)
	tk := createTask(t, app)

	_, err := execute(t, app.App, "workflow", "reject", tk.ID)
	assert.ErrorContains(t, err, `required flag(s) "rationale" not set`)
}

func TestRejectThenProcessAgain(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tk := createTask(t, app)
	_, err := execute(t, app.App, "workflow", "process", tk.ID)
	require.NoError(t, err)

	out, err := execute(t, app.App, "workflow", "reject", tk.ID, "--rationale", "touches the schema", "--category", "security")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(rejected)")

	got, err := app.Tasks.Find(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRejected, got.Status)

	out, err = execute(t, app.App, "workflow", "process", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "RETRY: plan_rejected → task_created")

	stats, err := app.Patterns.Stats(ctx, "feature")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Approved)
	assert.Equal(t, []string{"touches the schema"}, stats.TopRejections)
}

func TestRejectedTransitionIsAnError(t *testing.T) {
	app := newTestApp(t)
	tk := createTask(t, app)

	out, err := execute(t, app.App, "workflow", "retry", tk.ID)
	assert.ErrorIs(t, err, ErrNotApplied)
	assert.Contains(t, out, "RETRY: awaiting_proposals ✗")
}

func TestFailRequiresReason(t *testing.T) {
	app := newTestApp(t)
	tk := createTask(t, app)

	_, err := execute(t, app.App, "workflow", "fail", tk.ID)
	assert.ErrorContains(t, err, `required flag(s) "reason" not set`)

	out, err := execute(t, app.App, "workflow", "fail", tk.ID, "--reason", "requirements withdrawn")
	require.NoError(t, err, out)

	got, err := app.Tasks.Find(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
}

func TestExecuteStartOnlyThenRecord(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	tk := createTask(t, app)
	_, err := execute(t, app.App, "workflow", "process", tk.ID)
	require.NoError(t, err)
	plans, err := app.Plans.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	_, err = execute(t, app.App, "workflow", "approve", tk.ID, "--plan", plans[0].ID)
	require.NoError(t, err)

	out, err := execute(t, app.App, "workflow", "execute", tk.ID, "--start-only")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Execution started")

	// produce a result the way an external runner would
	executor, err := agent.NewExecutionAgent(agent.ExecutorSimulated, agent.ExecutorConfig{})
	require.NoError(t, err)
	r, err := executor.Execute(ctx, plans[0], tk)
	require.NoError(t, err)
	r.PlanID = ""
	data, err := json.Marshal(r)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(file, data, 0o644))

	out, err = execute(t, app.App, "workflow", "record", tk.ID, "-f", file)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Result recorded")

	state, err := app.Engine.WorkflowState(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.StateAwaitingVerification, state)
	assert.Equal(t, 1, app.storage.Count())
}

func TestBatchCommands(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	first := createTask(t, app, "a.go")
	second := createTask(t, app, "b.go")

	out, err := execute(t, app.App, "workflow", "process", "--all")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Planning batch finished")

	for _, tk := range []*task.Task{first, second} {
		plans, err := app.Plans.ListByTask(ctx, tk.ID)
		require.NoError(t, err)
		require.NotEmpty(t, plans)
		_, err = execute(t, app.App, "workflow", "approve", tk.ID, "--plan", plans[0].ID)
		require.NoError(t, err)
	}

	out, err = execute(t, app.App, "workflow", "execute", "--all")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Started: 2")

	for _, tk := range []*task.Task{first, second} {
		state, err := app.Engine.WorkflowState(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.StateAwaitingVerification, state)
	}
}

func TestProcessRequiresTaskOrAll(t *testing.T) {
	app := newTestApp(t)
	_, err := execute(t, app.App, "workflow", "process")
	assert.ErrorContains(t, err, "task id required")
}

func TestWatchStopsOnCancel(t *testing.T) {
	app := newTestApp(t)
	createTask(t, app)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out, err := executeContext(t, ctx, app.App, "workflow", "watch", "--interval", "10ms")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Planned")
	assert.Contains(t, out, "Watch stopped")
}

func TestTaskCreateFromFile(t *testing.T) {
	app := newTestApp(t)
	doc := task.Task{
		Type:        model.TaskTypeBugfix,
		Description: "Fix the off-by-one in pagination",
		Context:     task.Context{RepositoryID: "acme/web", Branch: "develop", Files: []string{"page.go"}},
		Constraints: task.Constraints{MaxDuration: 30, MinTestCoverage: 70},
	}
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "task.yaml")
	require.NoError(t, os.WriteFile(file, data, 0o644))

	out, err := execute(t, app.App, "task", "create", "-f", file, "--priority", "high")
	require.NoError(t, err, out)

	tasks, err := app.Tasks.List(context.Background(), repository.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	got := tasks[0]
	assert.Equal(t, model.TaskTypeBugfix, got.Type)
	assert.Equal(t, "develop", got.Context.Branch)
	assert.Equal(t, 30, got.Constraints.MaxDuration)
	assert.Equal(t, "high", got.Metadata.Priority)
}

func TestTaskCreateInvalid(t *testing.T) {
	app := newTestApp(t)
	out, err := execute(t, app.App, "task", "create", "-d", "no repository")
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	assert.Contains(t, out, "repository_id")
}

func TestTaskShowAndList(t *testing.T) {
	app := newTestApp(t)
	tk := createTask(t, app)

	out, err := execute(t, app.App, "task", "show", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Task: "+tk.ID)

	out, err = execute(t, app.App, "task", "list", "--status", "planning")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Total: 1 tasks")

	_, err = execute(t, app.App, "task", "list", "--status", "bogus")
	assert.ErrorContains(t, err, `invalid status filter: "bogus"`)

	_, err = execute(t, app.App, "task", "show", "TASK-NOPE")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPlanExport(t *testing.T) {
	app := newTestApp(t)
	tk := createTask(t, app)
	_, err := execute(t, app.App, "workflow", "process", tk.ID)
	require.NoError(t, err)
	plans, err := app.Plans.ListByTask(context.Background(), tk.ID)
	require.NoError(t, err)

	out, err := execute(t, app.App, "plan", "export", plans[0].ID)
	require.NoError(t, err)
	var decoded plan.Plan
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, plans[0].ID, decoded.ID)
	assert.Len(t, decoded.Steps, len(plans[0].Steps))

	out, err = execute(t, app.App, "plan", "export", plans[0].ID, "--archive")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Plan archived")
	assert.Equal(t, 1, app.storage.Count())

	out, err = execute(t, app.App, "artifacts", "list", tk.ID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "plan")
}

func TestArtifactsWithoutStorage(t *testing.T) {
	app := newTestApp(t)
	app.Storage = nil

	_, err := execute(t, app.App, "artifacts", "list", "TASK-1")
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestPatternStats(t *testing.T) {
	app := newTestApp(t)
	out, err := execute(t, app.App, "patterns", "stats", "feature")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Decisions: 0")
}

func TestCloseWritesMetricsTextfile(t *testing.T) {
	app := newTestApp(t)
	app.MetricsTextfile = filepath.Join(t.TempDir(), "deeflow.prom")

	createTask(t, app)

	data, err := os.ReadFile(app.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "deeflow_")
}
