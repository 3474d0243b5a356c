package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/validation"
)

func testTask(taskType model.TaskType, maxDuration int) *task.Task {
	return &task.Task{
		ID:          "TASK-001",
		Type:        taskType,
		Description: "add rate limiting",
		Context:     task.Context{RepositoryID: "acme/api", Files: []string{"api/limit.go"}},
		Constraints: task.Constraints{MaxDuration: maxDuration, MinTestCoverage: 80},
	}
}

func commandPlan(commands ...string) *plan.Plan {
	p := &plan.Plan{ID: "PLAN-001", TaskID: "TASK-001", Approach: "cmd", EstimatedDuration: 30}
	for i, c := range commands {
		step := plan.Step{
			ID:         "step-00" + string(rune('1'+i)),
			Agent:      plan.RoleCoder,
			Action:     "run",
			Validation: plan.StepValidation{Command: c},
		}
		if i > 0 {
			step.Dependencies = []string{p.Steps[i-1].ID}
		}
		p.Steps = append(p.Steps, step)
	}
	return p
}

func TestHeuristicPlanner_GeneratePlans(t *testing.T) {
	planner := NewHeuristicPlanner(3)
	tk := testTask(model.TaskTypeFeature, 240)

	plans, err := planner.GeneratePlans(context.Background(), tk, "")
	require.NoError(t, err)
	require.Len(t, plans, 3)

	v := validation.NewValidator()
	seen := map[string]bool{}
	for _, p := range plans {
		require.NoError(t, p.Validate())
		assert.True(t, v.Validate(p, tk).Valid, "plan %q must pass pre-execution validation", p.Approach)
		assert.Equal(t, tk.ID, p.TaskID)
		assert.Equal(t, plan.StatusProposed, p.Status)
		assert.LessOrEqual(t, p.EstimatedDuration, 240)
		assert.False(t, seen[p.Approach], "approaches are distinct")
		seen[p.Approach] = true
	}
}

func TestHeuristicPlanner_RespectsBudgetAndMinimum(t *testing.T) {
	plans, err := NewHeuristicPlanner(3).GeneratePlans(context.Background(), testTask(model.TaskTypeBugfix, 40), "")
	require.NoError(t, err)
	for _, p := range plans {
		assert.GreaterOrEqual(t, p.EstimatedDuration, plan.MinEstimatedDuration)
		assert.LessOrEqual(t, p.EstimatedDuration, 40)
	}
}

func TestHeuristicPlanner_Feedback(t *testing.T) {
	planner := NewHeuristicPlanner(3)
	tk := testTask(model.TaskTypeFeature, 240)

	first, err := planner.GeneratePlans(context.Background(), tk, "")
	require.NoError(t, err)
	revised, err := planner.GeneratePlans(context.Background(), tk, "needs burst handling")
	require.NoError(t, err)

	assert.NotEqual(t, first[0].Approach, revised[0].Approach, "the first approach moves to the back")
	for _, p := range revised {
		assert.Contains(t, p.Reasoning, "needs burst handling")
		last := p.Risks[len(p.Risks)-1]
		assert.Contains(t, last.Description, "needs burst handling")
	}
}

func TestHeuristicPlanner_CapsAtCatalogue(t *testing.T) {
	plans, err := NewHeuristicPlanner(10).GeneratePlans(context.Background(), testTask(model.TaskTypeDocs, 60), "")
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestHeuristicPlanner_UnknownType(t *testing.T) {
	_, err := NewHeuristicPlanner(3).GeneratePlans(context.Background(), testTask("chore", 60), "")
	assert.Error(t, err)
}

func TestSimulatedExecutor_Success(t *testing.T) {
	tk := testTask(model.TaskTypeFeature, 240)
	plans, err := NewHeuristicPlanner(1).GeneratePlans(context.Background(), tk, "")
	require.NoError(t, err)
	p := plans[0]

	r, err := NewSimulatedExecutor().Execute(context.Background(), p, tk)
	require.NoError(t, err)

	assert.Equal(t, result.StatusSuccess, r.Status)
	assert.Equal(t, result.ModeSimulated, r.Metadata.ExecutionMode)
	require.Len(t, r.Steps, len(p.Steps))
	for i, s := range r.Steps {
		assert.Equal(t, p.Steps[i].ID, s.StepID)
	}
	require.NotNil(t, r.Artifacts.TestResults.Coverage)
	assert.GreaterOrEqual(t, *r.Artifacts.TestResults.Coverage, 80.0)
	assert.Contains(t, r.Metadata.Logs[0], "[run ")
}

func TestSimulatedExecutor_FailureSkipsDependants(t *testing.T) {
	p := commandPlan("a", "b", "c")

	r, err := NewSimulatedExecutor(WithFailingSteps("step-002")).Execute(context.Background(), p, testTask(model.TaskTypeFeature, 60))
	require.NoError(t, err)

	assert.Equal(t, result.StatusPartialSuccess, r.Status)
	assert.Equal(t, result.StepSuccess, r.Steps[0].Status)
	assert.Equal(t, result.StepFailure, r.Steps[1].Status)
	require.NotNil(t, r.Steps[1].Error)
	assert.Equal(t, result.StepSkipped, r.Steps[2].Status)
}

func TestSimulatedExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulatedExecutor(WithStepDelay(time.Millisecond)).Execute(ctx, commandPlan("a"), testTask(model.TaskTypeFeature, 60))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandExecutor_Success(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))
	p := commandPlan("test -f marker.txt", "echo 'coverage: 91.5% of statements'")

	r, err := NewCommandExecutor(dir, time.Minute, nil).Execute(context.Background(), p, testTask(model.TaskTypeFeature, 60))
	require.NoError(t, err)

	assert.Equal(t, result.StatusSuccess, r.Status)
	assert.Equal(t, result.ModeReal, r.Metadata.ExecutionMode)
	assert.Equal(t, dir, r.Metadata.Environment)
	require.NotNil(t, r.Artifacts.TestResults.Coverage)
	assert.InDelta(t, 91.5, *r.Artifacts.TestResults.Coverage, 0.001)
	assert.Contains(t, r.Steps[1].Validation.Output, "coverage: 91.5%")
}

func TestCommandExecutor_FailureAndSkip(t *testing.T) {
	p := commandPlan("exit 3", "echo never")

	r, err := NewCommandExecutor(t.TempDir(), time.Minute, nil).Execute(context.Background(), p, testTask(model.TaskTypeFeature, 60))
	require.NoError(t, err)

	assert.Equal(t, result.StatusFailure, r.Status)
	assert.Equal(t, 3, r.Steps[0].Validation.ExitCode)
	require.NotNil(t, r.Steps[0].Error)
	assert.Contains(t, r.Steps[0].Error.Message, "status 3")
	assert.Equal(t, result.StepSkipped, r.Steps[1].Status)
	assert.Nil(t, r.Artifacts.TestResults.Coverage)
}

func TestCommandExecutor_StepTimeout(t *testing.T) {
	p := commandPlan("sleep 5")

	r, err := NewCommandExecutor(t.TempDir(), 50*time.Millisecond, nil).Execute(context.Background(), p, testTask(model.TaskTypeFeature, 60))
	require.NoError(t, err)

	assert.Equal(t, result.StepFailure, r.Steps[0].Status)
	assert.Equal(t, -1, r.Steps[0].Validation.ExitCode)
	assert.Contains(t, r.Steps[0].Error.Message, "timed out")
}

func TestCommandExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCommandExecutor(t.TempDir(), time.Minute, nil).Execute(ctx, commandPlan("true"), testTask(model.TaskTypeFeature, 60))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCoverageAndTruncate(t *testing.T) {
	assert.Nil(t, parseCoverage("ok  pkg 0.1s"))
	c := parseCoverage("coverage: 50.0% of statements\ncoverage: 72% of statements")
	require.NotNil(t, c)
	assert.InDelta(t, 72.0, *c, 0.001)

	assert.Equal(t, "short", truncateOutput("short"))
}

func TestTruncateOutputKeepsHeadAndTail(t *testing.T) {
	out := "golangci-lint run\n" + strings.Repeat("ok\n", maxOutputBytes) + "main.go:3:1: lint error: unused variable\n"

	got := truncateOutput(out)

	assert.LessOrEqual(t, len(got), maxOutputBytes+64)
	assert.True(t, strings.HasPrefix(got, "golangci-lint run"))
	assert.True(t, strings.HasSuffix(got, "lint error: unused variable\n"))
	assert.Contains(t, got, "bytes truncated")
}

func TestTruncateOutputCutsOnRuneBoundaries(t *testing.T) {
	out := strings.Repeat("é", maxOutputBytes)

	got := truncateOutput(out)

	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "éé"))
	assert.True(t, strings.HasSuffix(got, "éé"))
}

func TestFactory(t *testing.T) {
	planner, err := NewPlanningAgent("", 2)
	require.NoError(t, err)
	assert.Equal(t, PlannerHeuristic, planner.Name())

	_, err = NewPlanningAgent("oracle", 2)
	assert.Error(t, err)

	exec, err := NewExecutionAgent(ExecutorSimulated, ExecutorConfig{})
	require.NoError(t, err)
	assert.Equal(t, ExecutorSimulated, exec.Name())

	exec, err = NewExecutionAgent(ExecutorCommand, ExecutorConfig{WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, ExecutorCommand, exec.Name())

	_, err = NewExecutionAgent(ExecutorCommand, ExecutorConfig{WorkDir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = NewExecutionAgent("docker", ExecutorConfig{})
	assert.Error(t, err)
	assert.ElementsMatch(t, []string{"simulated", "command"}, AvailableExecutors())
}
