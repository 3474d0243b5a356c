package decision

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
)

// MinRationaleLength is the minimum number of runes a rationale must carry
const MinRationaleLength = 10

// RejectAll is the SelectedOption value meaning every proposal was rejected
const RejectAll = -1

// Category classifies what a decision was about
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryUX           Category = "ux"
	CategoryPerformance  Category = "performance"
	CategorySecurity     Category = "security"
	CategoryIntegration  Category = "integration"
)

// IsValid validates the category
func (c Category) IsValid() bool {
	switch c {
	case CategoryArchitecture, CategoryUX, CategoryPerformance, CategorySecurity, CategoryIntegration:
		return true
	default:
		return false
	}
}

// Tradeoffs summarises what a proposal gains and costs
type Tradeoffs struct {
	Pros  []string `json:"pros" yaml:"pros"`
	Cons  []string `json:"cons" yaml:"cons"`
	Risks []string `json:"risks" yaml:"risks"`
}

// Proposal is one option the human evaluated
type Proposal struct {
	Approach  string    `json:"approach" yaml:"approach"`
	Reasoning string    `json:"reasoning" yaml:"reasoning"`
	Tradeoffs Tradeoffs `json:"tradeoffs" yaml:"tradeoffs"`
}

// Decision is the immutable record of a human (or autopilot) choice
type Decision struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	PlanID         string     `json:"plan_id,omitempty"`
	Category       Category   `json:"category"`
	Proposals      []Proposal `json:"proposals"`
	SelectedOption int        `json:"selected_option"`
	Rationale      string     `json:"rationale"`
	Overrides      []string   `json:"overrides,omitempty"`
	DecidedBy      string     `json:"decided_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewApproval builds a decision selecting the given plan
func NewApproval(taskID, planID string, selected int, category Category, rationale string) *Decision {
	return &Decision{
		ID:             model.NewID(model.PrefixDecision),
		TaskID:         taskID,
		PlanID:         planID,
		Category:       category,
		SelectedOption: selected,
		Rationale:      rationale,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewRejection builds a decision rejecting every proposal
func NewRejection(taskID, planID string, category Category, rationale string) *Decision {
	return &Decision{
		ID:             model.NewID(model.PrefixDecision),
		TaskID:         taskID,
		PlanID:         planID,
		Category:       category,
		SelectedOption: RejectAll,
		Rationale:      rationale,
		CreatedAt:      time.Now().UTC(),
	}
}

// IsApproval reports whether the decision selects a concrete plan
func (d *Decision) IsApproval() bool {
	return d.SelectedOption >= 0 && d.PlanID != ""
}

// Validate checks the decision invariants
func (d *Decision) Validate() error {
	if d.ID == "" {
		return model.ErrEmptyID
	}
	if d.TaskID == "" {
		return errors.New("decision task_id cannot be empty")
	}
	if !d.Category.IsValid() {
		return fmt.Errorf("invalid decision category: %q", d.Category)
	}
	if d.SelectedOption < RejectAll {
		return fmt.Errorf("selected_option must be >= -1, got %d", d.SelectedOption)
	}
	if d.SelectedOption >= 0 && d.PlanID == "" {
		return errors.New("approval requires a plan_id")
	}
	if len(d.Proposals) > 0 && d.SelectedOption >= len(d.Proposals) {
		return fmt.Errorf("selected_option %d out of range for %d proposals", d.SelectedOption, len(d.Proposals))
	}
	if utf8.RuneCountInString(strings.TrimSpace(d.Rationale)) < MinRationaleLength {
		return fmt.Errorf("rationale must be at least %d characters", MinRationaleLength)
	}
	return nil
}
