package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
)

// MinEstimatedDuration is the smallest estimate (in minutes) a plan may carry
const MinEstimatedDuration = 30

// AgentRole identifies which agent is responsible for a plan step
type AgentRole string

const (
	RoleArchitect AgentRole = "architect"
	RoleCoder     AgentRole = "coder"
	RoleTester    AgentRole = "tester"
	RoleReviewer  AgentRole = "reviewer"
	RoleDevOps    AgentRole = "devops"
)

// IsValid validates the agent role
func (r AgentRole) IsValid() bool {
	switch r {
	case RoleArchitect, RoleCoder, RoleTester, RoleReviewer, RoleDevOps:
		return true
	default:
		return false
	}
}

// Severity ranks a plan risk
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid validates the severity
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Status is the lifecycle status of a plan row
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValid validates the plan status
func (s Status) IsValid() bool {
	switch s {
	case StatusProposed, StatusApproved, StatusRejected, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// StepValidation is the contract used to check a step once it ran
type StepValidation struct {
	Command         string `json:"command" yaml:"command"`
	SuccessCriteria string `json:"success_criteria" yaml:"success_criteria"`
}

// Step is one unit of a plan
type Step struct {
	ID           string         `json:"id" yaml:"id"`
	Agent        AgentRole      `json:"agent" yaml:"agent"`
	Action       string         `json:"action" yaml:"action"`
	Inputs       []string       `json:"inputs" yaml:"inputs"`
	Outputs      []string       `json:"outputs" yaml:"outputs"`
	Validation   StepValidation `json:"validation" yaml:"validation"`
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Risk is a known hazard of a plan
type Risk struct {
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Mitigation  string   `json:"mitigation" yaml:"mitigation"`
}

// Metadata tracks approval of a plan
type Metadata struct {
	Approved   bool       `json:"approved" yaml:"approved"`
	ApprovedBy string     `json:"approved_by,omitempty" yaml:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
}

// Plan is one candidate implementation path for a task
type Plan struct {
	ID                string    `json:"id" yaml:"id"`
	TaskID            string    `json:"task_id" yaml:"task_id"`
	Version           string    `json:"version" yaml:"version"`
	Approach          string    `json:"approach" yaml:"approach"`
	Reasoning         string    `json:"reasoning" yaml:"reasoning"`
	Steps             []Step    `json:"steps" yaml:"steps"`
	EstimatedDuration int       `json:"estimated_duration" yaml:"estimated_duration"` // minutes
	Risks             []Risk    `json:"risks" yaml:"risks"`
	Metadata          Metadata  `json:"metadata" yaml:"metadata"`
	Status            Status    `json:"status" yaml:"status"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the structural invariants every stored plan must satisfy
func (p *Plan) Validate() error {
	if p.ID == "" {
		return model.ErrEmptyID
	}
	if p.TaskID == "" {
		return errors.New("plan task_id cannot be empty")
	}
	if strings.TrimSpace(p.Approach) == "" {
		return errors.New("plan approach cannot be empty")
	}
	if len(p.Steps) == 0 {
		return errors.New("plan must contain at least one step")
	}
	if p.EstimatedDuration < MinEstimatedDuration {
		return fmt.Errorf("estimated_duration must be at least %d minutes, got %d", MinEstimatedDuration, p.EstimatedDuration)
	}
	for i, step := range p.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf("steps[%d]: id is required", i)
		}
		if !step.Agent.IsValid() {
			return fmt.Errorf("steps[%d]: unsupported agent %q", i, step.Agent)
		}
		if strings.TrimSpace(step.Action) == "" {
			return fmt.Errorf("steps[%d]: action is required", i)
		}
	}
	for i, risk := range p.Risks {
		if !risk.Severity.IsValid() {
			return fmt.Errorf("risks[%d]: invalid severity %q", i, risk.Severity)
		}
	}
	if p.Status != "" && !p.Status.IsValid() {
		return fmt.Errorf("invalid plan status: %q", p.Status)
	}
	return nil
}

// StepIndex returns the position of a step by ID, or -1
func (p *Plan) StepIndex(stepID string) int {
	for i, step := range p.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

// MarkApproved records approval metadata and moves the plan to approved
func (p *Plan) MarkApproved(approver string, at time.Time) {
	p.Status = StatusApproved
	p.Metadata.Approved = true
	p.Metadata.ApprovedBy = approver
	p.Metadata.ApprovedAt = &at
	p.UpdatedAt = at
}

// MarkRejected moves the plan to rejected
func (p *Plan) MarkRejected(at time.Time) {
	p.Status = StatusRejected
	p.Metadata.Approved = false
	p.UpdatedAt = at
}
