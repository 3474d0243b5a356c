package result

import (
	"errors"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
)

// Status is the overall outcome of an execution attempt
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailure        Status = "failure"
	StatusCancelled      Status = "cancelled"
)

// IsValid validates the result status
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusFailure, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the outcome of a single plan step
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// ExecutionMode tells whether the executor actually ran commands
type ExecutionMode string

const (
	ModeSimulated ExecutionMode = "simulated"
	ModeReal      ExecutionMode = "real"
)

// ValidationOutcome captures the step's validation command run
type ValidationOutcome struct {
	Passed   bool   `json:"passed"`
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// StepError is a structured failure of a step
type StepError struct {
	Message     string `json:"message"`
	Stack       string `json:"stack,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// StepResult is the outcome of one plan step, in plan order
type StepResult struct {
	StepID     string            `json:"step_id"`
	Status     StepStatus        `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	Validation ValidationOutcome `json:"validation"`
	Artifacts  []string          `json:"artifacts,omitempty"`
	Error      *StepError        `json:"error,omitempty"`
}

// TestSummary aggregates test counts reported by the executor
type TestSummary struct {
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Coverage *float64 `json:"coverage,omitempty"`
}

// Artifacts lists the files touched by an execution
type Artifacts struct {
	Created     []string     `json:"created"`
	Modified    []string     `json:"modified"`
	Deleted     []string     `json:"deleted"`
	TestResults *TestSummary `json:"test_results,omitempty"`
}

// Check is one named quality gate check
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// QualityGates is the aggregate of all checks
type QualityGates struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Metadata describes where and how the execution ran
type Metadata struct {
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Executor      string        `json:"executor"`
	Environment   string        `json:"environment,omitempty"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	CommitHash    string        `json:"commit_hash,omitempty"`
	Logs          []string      `json:"logs,omitempty"`
}

// Result is the record of one execution attempt
type Result struct {
	ID           string       `json:"id"`
	PlanID       string       `json:"plan_id"`
	TaskID       string       `json:"task_id"`
	Version      string       `json:"version"`
	Status       Status       `json:"status"`
	Steps        []StepResult `json:"steps"`
	DurationMs   int64        `json:"duration_ms"`
	Artifacts    Artifacts    `json:"artifacts"`
	QualityGates QualityGates `json:"quality_gates"`
	Metadata     Metadata     `json:"metadata"`
	CreatedAt    time.Time    `json:"created_at"`
}

// New creates an empty result for a plan execution
func New(planID, taskID string) *Result {
	now := time.Now().UTC()
	return &Result{
		ID:        model.NewID(model.PrefixResult),
		PlanID:    planID,
		TaskID:    taskID,
		Version:   "1.0.0",
		CreatedAt: now,
		Metadata:  Metadata{StartedAt: now},
	}
}

// SuccessfulSteps counts steps with status success
func (r *Result) SuccessfulSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StepSuccess {
			n++
		}
	}
	return n
}

// HasStepErrors reports whether any step carries an error
func (r *Result) HasStepErrors() bool {
	for _, s := range r.Steps {
		if s.Error != nil {
			return true
		}
	}
	return false
}

// DeriveStatus computes the overall status from the step outcomes
func (r *Result) DeriveStatus() Status {
	if len(r.Steps) == 0 {
		return StatusFailure
	}
	ok := r.SuccessfulSteps()
	switch {
	case ok == len(r.Steps):
		return StatusSuccess
	case ok == 0:
		return StatusFailure
	default:
		return StatusPartialSuccess
	}
}

// Validate checks the result invariants
func (r *Result) Validate() error {
	if r.ID == "" {
		return model.ErrEmptyID
	}
	if r.PlanID == "" || r.TaskID == "" {
		return errors.New("result requires plan_id and task_id")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid result status: %q", r.Status)
	}
	for i, s := range r.Steps {
		switch s.Status {
		case StepSuccess, StepFailure, StepSkipped:
		default:
			return fmt.Errorf("steps[%d]: invalid status %q", i, s.Status)
		}
	}
	return nil
}
