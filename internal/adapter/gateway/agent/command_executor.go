package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
)

// ExecutorCommand is the factory name of the command executor
const ExecutorCommand = "command"

// DefaultStepTimeout bounds one validation command
const DefaultStepTimeout = 2 * time.Minute

// maxOutputBytes is how much command output is kept per step, split between
// the head and the tail where linters print their summaries
const maxOutputBytes = 8 * 1024

// outputWaitDelay bounds how long output is drained after a step is killed
const outputWaitDelay = time.Second

var coveragePattern = regexp.MustCompile(`coverage:\s+([0-9]+(?:\.[0-9]+)?)%`)

// CommandExecutor runs each step's validation command with sh -c in a working
// directory. A step passes when its command exits zero.
type CommandExecutor struct {
	workDir     string
	shell       string
	stepTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewCommandExecutor creates a command executor. A non-positive timeout selects DefaultStepTimeout.
func NewCommandExecutor(workDir string, stepTimeout time.Duration, logger *zap.Logger) *CommandExecutor {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExecutor{
		workDir:     workDir,
		shell:       "sh",
		stepTimeout: stepTimeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ output.ExecutionAgent = (*CommandExecutor)(nil)

// Name returns the executor name
func (e *CommandExecutor) Name() string { return ExecutorCommand }

// Execute runs the steps in plan order. Steps depending on a failed step are
// skipped. Cancellation of ctx aborts the run with ctx's error.
func (e *CommandExecutor) Execute(ctx context.Context, p *plan.Plan, t *task.Task) (*result.Result, error) {
	runID := uuid.NewString()
	r := result.New(p.ID, p.TaskID)
	r.Metadata.StartedAt = e.now()
	r.Metadata.Executor = ExecutorCommand
	r.Metadata.ExecutionMode = result.ModeReal
	r.Metadata.Environment = e.workDir
	r.Metadata.Logs = append(r.Metadata.Logs, fmt.Sprintf("[run %s] executing %d steps in %s", runID, len(p.Steps), e.workDir))

	logger := e.logger.With(zap.String("run_id", runID), zap.String("plan_id", p.ID))
	var coverage *float64
	broken := map[string]bool{}

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if dependsOnAny(step, broken) {
			broken[step.ID] = true
			r.Steps = append(r.Steps, result.StepResult{
				StepID:     step.ID,
				Status:     result.StepSkipped,
				Validation: result.ValidationOutcome{Command: step.Validation.Command},
			})
			r.Metadata.Logs = append(r.Metadata.Logs, step.ID+" skipped: dependency failed")
			continue
		}

		sr := e.runStep(ctx, step)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if sr.Status != result.StepSuccess {
			broken[step.ID] = true
		}
		if c := parseCoverage(sr.Validation.Output); c != nil {
			coverage = c
		}
		logger.Debug("step finished",
			zap.String("step_id", step.ID),
			zap.String("status", string(sr.Status)),
			zap.Int("exit_code", sr.Validation.ExitCode),
			zap.Int64("duration_ms", sr.DurationMs))
		r.Metadata.Logs = append(r.Metadata.Logs,
			fmt.Sprintf("%s %s (exit %d): %s", step.ID, sr.Status, sr.Validation.ExitCode, step.Validation.Command))
		r.Steps = append(r.Steps, sr)
	}

	passed := r.SuccessfulSteps()
	r.Artifacts = result.Artifacts{
		Created:  []string{},
		Modified: collectOutputs(p),
		Deleted:  []string{},
		TestResults: &result.TestSummary{
			Passed:   passed,
			Failed:   len(r.Steps) - passed,
			Coverage: coverage,
		},
	}
	r.Status = r.DeriveStatus()
	r.Metadata.CompletedAt = e.now()
	r.DurationMs = r.Metadata.CompletedAt.Sub(r.Metadata.StartedAt).Milliseconds()
	return r, nil
}

func (e *CommandExecutor) runStep(ctx context.Context, step plan.Step) result.StepResult {
	sr := result.StepResult{
		StepID:     step.ID,
		Validation: result.ValidationOutcome{Command: step.Validation.Command},
	}

	cctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cctx, e.shell, "-c", step.Validation.Command)
	cmd.Dir = e.workDir
	// children of sh may outlive it and hold the output pipe open
	cmd.WaitDelay = outputWaitDelay
	out, err := cmd.CombinedOutput()
	sr.DurationMs = time.Since(start).Milliseconds()
	sr.Validation.Output = truncateOutput(string(out))

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		sr.Status = result.StepSuccess
		sr.Validation.Passed = true
		sr.Artifacts = append([]string(nil), step.Outputs...)
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		sr.Status = result.StepFailure
		sr.Validation.ExitCode = -1
		sr.Error = &result.StepError{
			Message:     fmt.Sprintf("timed out after %s", e.stepTimeout),
			Recoverable: true,
		}
	case errors.As(err, &exitErr):
		sr.Status = result.StepFailure
		sr.Validation.ExitCode = exitErr.ExitCode()
		sr.Error = &result.StepError{
			Message:     "validation command exited with status " + strconv.Itoa(exitErr.ExitCode()),
			Recoverable: true,
		}
	default:
		sr.Status = result.StepFailure
		sr.Validation.ExitCode = -1
		sr.Error = &result.StepError{Message: err.Error()}
	}
	return sr
}

func parseCoverage(out string) *float64 {
	m := coveragePattern.FindAllStringSubmatch(out, -1)
	if len(m) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(m[len(m)-1][1], 64)
	if err != nil {
		return nil
	}
	return &v
}

func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	half := maxOutputBytes / 2
	head := half
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - half
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	return s[:head] + fmt.Sprintf("\n... (%d bytes truncated) ...\n", tail-head) + s[tail:]
}

