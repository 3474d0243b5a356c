package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
)

// DefaultVersion is assigned to tasks created without an explicit version
const DefaultVersion = "1.0.0"

// Context describes where the work happens
type Context struct {
	RepositoryID string   `json:"repository_id" yaml:"repository_id"`
	Branch       string   `json:"branch" yaml:"branch"`
	Files        []string `json:"files" yaml:"files"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Constraints bound how the task may be carried out
type Constraints struct {
	MaxDuration          int     `json:"max_duration" yaml:"max_duration"` // minutes
	RequiresApproval     bool    `json:"requires_approval" yaml:"requires_approval"`
	AllowBreakingChanges bool    `json:"allow_breaking_changes" yaml:"allow_breaking_changes"`
	MinTestCoverage      float64 `json:"min_test_coverage" yaml:"min_test_coverage"`
}

// Metadata is optional bookkeeping attached to a task
type Metadata struct {
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Priority  string    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Labels    []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Task is a unit of work driven through the approval workflow.
// The workflow only ever changes Status; every other field is owned by the task store.
type Task struct {
	ID          string           `json:"id" yaml:"id"`
	Version     string           `json:"version" yaml:"version"`
	Type        model.TaskType   `json:"type" yaml:"type"`
	Description string           `json:"description" yaml:"description"`
	Context     Context          `json:"context" yaml:"context"`
	Constraints Constraints      `json:"constraints" yaml:"constraints"`
	Metadata    Metadata         `json:"metadata" yaml:"metadata"`
	Intent      string           `json:"intent,omitempty" yaml:"intent,omitempty"`
	Status      model.TaskStatus `json:"status" yaml:"status"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
}

// NewTask creates a pending task with a generated ID
func NewTask(taskType model.TaskType, description string, ctx Context, constraints Constraints) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:          model.NewID(model.PrefixTask),
		Version:     DefaultVersion,
		Type:        taskType,
		Description: description,
		Context:     ctx,
		Constraints: constraints,
		Metadata:    Metadata{CreatedAt: now},
		Status:      model.TaskStatusPending,
		UpdatedAt:   now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Normalize fills in defaults for a task built outside NewTask (e.g. decoded from YAML)
func (t *Task) Normalize() {
	if t.ID == "" {
		t.ID = model.NewID(model.PrefixTask)
	}
	if t.Version == "" {
		t.Version = DefaultVersion
	}
	if t.Status == "" {
		t.Status = model.TaskStatusPending
	}
	now := time.Now().UTC()
	if t.Metadata.CreatedAt.IsZero() {
		t.Metadata.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Validate checks the structural invariants of a task
func (t *Task) Validate() error {
	if t.ID == "" {
		return model.ErrEmptyID
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid task type: %q", t.Type)
	}
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("description cannot be empty")
	}
	if strings.TrimSpace(t.Context.RepositoryID) == "" {
		return errors.New("context.repository_id cannot be empty")
	}
	if t.Constraints.MaxDuration <= 0 {
		return fmt.Errorf("constraints.max_duration must be positive, got %d", t.Constraints.MaxDuration)
	}
	if t.Constraints.MinTestCoverage < 0 || t.Constraints.MinTestCoverage > 100 {
		return fmt.Errorf("constraints.min_test_coverage must be within 0-100, got %.1f", t.Constraints.MinTestCoverage)
	}
	if t.Status != "" && !t.Status.IsValid() {
		return fmt.Errorf("invalid task status: %q", t.Status)
	}
	return nil
}
