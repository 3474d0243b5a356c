package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
)

// PlannerHeuristic is the factory name of the built-in planner
const PlannerHeuristic = "heuristic"

// DefaultPlanCount is the number of alternatives proposed per round
const DefaultPlanCount = 3

// approachTemplate describes one alternative the heuristic planner can propose
type approachTemplate struct {
	name      string
	reasoning string
	// weight scales the base duration
	weight float64
	roles  []plan.AgentRole
	risk   plan.Risk
}

var approachCatalog = map[model.TaskType][]approachTemplate{
	model.TaskTypeFeature: {
		{"incremental implementation behind a feature flag", "ships in small reviewable steps and can be disabled without a deploy", 1.0,
			[]plan.AgentRole{plan.RoleArchitect, plan.RoleCoder, plan.RoleTester, plan.RoleReviewer},
			plan.Risk{Description: "flag left enabled with partial behaviour", Severity: plan.SeverityMedium, Mitigation: "default the flag off until review"}},
		{"dedicated module with a narrow interface", "isolates the new behaviour so existing callers stay untouched", 1.3,
			[]plan.AgentRole{plan.RoleArchitect, plan.RoleCoder, plan.RoleTester},
			plan.Risk{Description: "interface too narrow for follow-up work", Severity: plan.SeverityLow, Mitigation: "review the interface with the architect role"}},
		{"extend the existing code path in place", "smallest diff, reuses the current tests", 0.8,
			[]plan.AgentRole{plan.RoleCoder, plan.RoleTester},
			plan.Risk{Description: "regression in shared code", Severity: plan.SeverityHigh, Mitigation: "run the full test suite before review"}},
	},
	model.TaskTypeBugfix: {
		{"reproduce with a failing test then fix", "the regression test documents the bug", 1.0,
			[]plan.AgentRole{plan.RoleTester, plan.RoleCoder, plan.RoleReviewer},
			plan.Risk{Description: "fix masks the root cause", Severity: plan.SeverityMedium, Mitigation: "reviewer confirms the root cause"}},
		{"minimal patch", "fastest path to unblock users", 0.6,
			[]plan.AgentRole{plan.RoleCoder, plan.RoleTester},
			plan.Risk{Description: "bug resurfaces elsewhere", Severity: plan.SeverityHigh, Mitigation: "add a regression test"}},
		{"defensive rewrite of the failing component", "removes the class of bug rather than one instance", 1.6,
			[]plan.AgentRole{plan.RoleArchitect, plan.RoleCoder, plan.RoleTester, plan.RoleReviewer},
			plan.Risk{Description: "rewrite introduces new bugs", Severity: plan.SeverityCritical, Mitigation: "keep the old tests passing unchanged"}},
	},
	model.TaskTypeRefactor: {
		{"strangler refactor in small commits", "each commit keeps the build green", 1.0,
			[]plan.AgentRole{plan.RoleArchitect, plan.RoleCoder, plan.RoleTester, plan.RoleReviewer},
			plan.Risk{Description: "refactor stalls half way", Severity: plan.SeverityMedium, Mitigation: "each step is independently mergeable"}},
		{"characterisation tests first", "locks behaviour before any change", 1.2,
			[]plan.AgentRole{plan.RoleTester, plan.RoleCoder, plan.RoleReviewer},
			plan.Risk{Description: "tests encode existing bugs", Severity: plan.SeverityLow, Mitigation: "flag suspicious behaviour for review"}},
	},
	model.TaskTypeDocs: {
		{"update reference docs alongside examples", "examples are verified by the build", 1.0,
			[]plan.AgentRole{plan.RoleCoder, plan.RoleReviewer},
			plan.Risk{Description: "examples drift from the code", Severity: plan.SeverityLow, Mitigation: "compile examples in CI"}},
	},
	model.TaskTypeTest: {
		{"table-driven unit tests", "covers edge cases cheaply", 1.0,
			[]plan.AgentRole{plan.RoleTester, plan.RoleReviewer},
			plan.Risk{Description: "tests coupled to implementation details", Severity: plan.SeverityLow, Mitigation: "test through the public API"}},
		{"integration tests against real dependencies", "catches wiring bugs unit tests miss", 1.5,
			[]plan.AgentRole{plan.RoleDevOps, plan.RoleTester},
			plan.Risk{Description: "slow or flaky suite", Severity: plan.SeverityMedium, Mitigation: "tag and run separately"}},
	},
	model.TaskTypeInfra: {
		{"declarative change applied through the pipeline", "reviewable and reproducible", 1.0,
			[]plan.AgentRole{plan.RoleDevOps, plan.RoleReviewer},
			plan.Risk{Description: "drift between environments", Severity: plan.SeverityHigh, Mitigation: "apply to staging first"}},
		{"scripted migration with rollback", "explicit rollback path", 1.4,
			[]plan.AgentRole{plan.RoleDevOps, plan.RoleTester, plan.RoleReviewer},
			plan.Risk{Description: "rollback untested", Severity: plan.SeverityCritical, Mitigation: "rehearse the rollback in staging"}},
	},
}

var roleActions = map[plan.AgentRole]struct {
	action   string
	command  string
	criteria string
}{
	plan.RoleArchitect: {"outline the design and affected interfaces", "test -d .", "design notes recorded"},
	plan.RoleCoder:     {"implement the change", "go build ./...", "build succeeds"},
	plan.RoleTester:    {"add or update tests", "go test ./...", "tests pass"},
	plan.RoleReviewer:  {"review the diff against the task constraints", "go vet ./...", "no findings"},
	plan.RoleDevOps:    {"apply the infrastructure change", "git diff --stat", "change applied"},
}

// HeuristicPlanner proposes plans from a fixed catalogue of approaches per task type
type HeuristicPlanner struct {
	planCount int
	now       func() time.Time
}

// NewHeuristicPlanner creates a planner proposing planCount alternatives
func NewHeuristicPlanner(planCount int) *HeuristicPlanner {
	if planCount < 1 {
		planCount = DefaultPlanCount
	}
	return &HeuristicPlanner{planCount: planCount, now: func() time.Time { return time.Now().UTC() }}
}

var _ output.PlanningAgent = (*HeuristicPlanner)(nil)

// Name returns the planner name
func (p *HeuristicPlanner) Name() string { return PlannerHeuristic }

// GeneratePlans returns up to planCount plans. With feedback, approaches the
// reviewer already saw move to the back and every plan carries the concern as a risk.
func (p *HeuristicPlanner) GeneratePlans(ctx context.Context, t *task.Task, feedback string) ([]*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	templates, ok := approachCatalog[t.Type]
	if !ok {
		return nil, fmt.Errorf("no approaches known for task type %q", t.Type)
	}

	feedback = strings.TrimSpace(feedback)
	if feedback != "" && len(templates) > 1 {
		rotated := append([]approachTemplate(nil), templates[1:]...)
		templates = append(rotated, templates[0])
	}

	n := p.planCount
	if n > len(templates) {
		n = len(templates)
	}

	now := p.now()
	plans := make([]*plan.Plan, 0, n)
	for _, tmpl := range templates[:n] {
		pl := &plan.Plan{
			ID:                model.NewID(model.PrefixPlan),
			TaskID:            t.ID,
			Version:           "1.0.0",
			Approach:          tmpl.name,
			Reasoning:         tmpl.reasoning,
			Steps:             buildSteps(tmpl.roles, t),
			EstimatedDuration: estimate(t, tmpl.weight),
			Risks:             []plan.Risk{tmpl.risk},
			Status:            plan.StatusProposed,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if feedback != "" {
			pl.Reasoning += "; revised after review feedback: " + feedback
			pl.Risks = append(pl.Risks, plan.Risk{
				Description: "reviewer concern: " + feedback,
				Severity:    plan.SeverityMedium,
				Mitigation:  "addressed explicitly in the review step",
			})
		}
		plans = append(plans, pl)
	}
	return plans, nil
}

// buildSteps chains one step per role, each depending on the previous one
func buildSteps(roles []plan.AgentRole, t *task.Task) []plan.Step {
	steps := make([]plan.Step, 0, len(roles))
	for i, role := range roles {
		ra := roleActions[role]
		step := plan.Step{
			ID:         fmt.Sprintf("step-%03d", i+1),
			Agent:      role,
			Action:     ra.action,
			Inputs:     append([]string(nil), t.Context.Files...),
			Validation: plan.StepValidation{Command: ra.command, SuccessCriteria: ra.criteria},
		}
		if i > 0 {
			step.Dependencies = []string{steps[i-1].ID}
		}
		if role == plan.RoleCoder {
			step.Outputs = append([]string(nil), t.Context.Files...)
		}
		steps = append(steps, step)
	}
	return steps
}

// estimate scales half the task budget by the template weight, clamped to the plan minimum and the budget
func estimate(t *task.Task, weight float64) int {
	d := int(float64(t.Constraints.MaxDuration) / 2 * weight)
	if d > t.Constraints.MaxDuration {
		d = t.Constraints.MaxDuration
	}
	if d < plan.MinEstimatedDuration {
		d = plan.MinEstimatedDuration
	}
	return d
}
