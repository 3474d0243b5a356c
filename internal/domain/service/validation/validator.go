// Package validation checks a plan against its task before execution is attempted.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
)

// Issue is a single validation finding
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// Result is the outcome of a pre-execution check. Errors block execution;
// warnings are informational.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ErrorMessages flattens the errors for logging
func (r Result) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	return out
}

func (r *Result) addError(field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(field, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*f?\s+/(\s|$)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
	regexp.MustCompile(`\bcurl\b[^|]*\|\s*(sudo\s+)?(ba|z)?sh\b`),
	regexp.MustCompile(`\bgit\s+push\s+.*--force\b`),
}

// Validator is stateless and safe for concurrent use
type Validator struct{}

// NewValidator creates a pre-execution validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks step commands, the dependency graph and the duration budget
func (v *Validator) Validate(p *plan.Plan, t *task.Task) Result {
	var res Result

	if p == nil || t == nil {
		res.addError("", "plan and task are required")
		return res
	}
	if len(p.Steps) == 0 {
		res.addError("steps", "plan has no steps")
	}

	for i, step := range p.Steps {
		field := fmt.Sprintf("steps[%d].validation.command", i)
		checkCommand(&res, field, step.Validation.Command)
	}

	checkDependencies(&res, p.Steps)

	if t.Constraints.MaxDuration > 0 && p.EstimatedDuration > t.Constraints.MaxDuration {
		res.addError("estimated_duration",
			"estimated duration %d minutes exceeds the task limit of %d minutes",
			p.EstimatedDuration, t.Constraints.MaxDuration)
	}

	checkRisks(&res, p.Risks)

	res.Valid = len(res.Errors) == 0
	return res
}

func checkCommand(res *Result, field, command string) {
	if strings.TrimSpace(command) == "" {
		res.addError(field, "command is empty")
		return
	}
	for _, r := range command {
		if r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			res.addError(field, "command contains control character %U", r)
			return
		}
	}
	if q := unbalancedQuote(command); q != 0 {
		res.addError(field, "command has an unterminated %c quote", q)
		return
	}
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			res.addWarning(field, "command looks destructive: %q", command)
			break
		}
	}
}

// unbalancedQuote returns the quote rune left open, or 0
func unbalancedQuote(command string) rune {
	var open rune
	escaped := false
	for _, r := range command {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && open != '\'':
			escaped = true
		case open == 0 && (r == '\'' || r == '"'):
			open = r
		case r == open:
			open = 0
		}
	}
	return open
}

func checkDependencies(res *Result, steps []plan.Step) {
	ids := make(map[string]bool, len(steps))
	for i, step := range steps {
		if ids[step.ID] {
			res.addError(fmt.Sprintf("steps[%d].id", i), "duplicate step id %q", step.ID)
		}
		ids[step.ID] = true
	}

	graph := make(map[string][]string, len(steps))
	order := make([]string, 0, len(steps))
	for i, step := range steps {
		field := fmt.Sprintf("steps[%d].dependencies", i)
		if _, seen := graph[step.ID]; !seen {
			order = append(order, step.ID)
		}
		for _, dep := range step.Dependencies {
			switch {
			case dep == step.ID:
				res.addError(field, "step %s depends on itself", step.ID)
			case !ids[dep]:
				res.addError(field, "step %s depends on unknown step %s", step.ID, dep)
			default:
				graph[step.ID] = append(graph[step.ID], dep)
			}
		}
		if graph[step.ID] == nil {
			graph[step.ID] = []string{}
		}
	}

	if cycle := findCycle(order, graph); cycle != nil {
		res.addError("steps", "dependency cycle detected: %s", strings.Join(cycle, " -> "))
	}
}

const (
	white = iota
	grey
	black
)

// findCycle runs a colouring DFS in step order and returns the first cycle
// found, closed on its starting node, or nil.
func findCycle(order []string, graph map[string][]string) []string {
	colour := make(map[string]int, len(order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colour[id] = grey
		stack = append(stack, id)
		for _, next := range graph[id] {
			switch colour[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return nil
	}

	for _, id := range order {
		if colour[id] == white {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

func checkRisks(res *Result, risks []plan.Risk) {
	if len(risks) == 0 {
		res.addWarning("risks", "plan declares no risks")
		return
	}
	for i, risk := range risks {
		if risk.Severity == plan.SeverityCritical && strings.TrimSpace(risk.Mitigation) == "" {
			res.addWarning(fmt.Sprintf("risks[%d]", i), "critical risk has no mitigation: %s", risk.Description)
		}
	}
}
