// Package quality evaluates the quality gates of an execution result.
package quality

import (
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
)

// Check names, in evaluation order
const (
	CheckAllStepsCompleted = "all steps completed"
	CheckTestCoverage      = "test coverage"
	CheckNoErrors          = "no execution errors"
	CheckLinting           = "linting"
	CheckTypeSafety        = "type-safety"
)

// DefaultMinCoverage is the coverage threshold applied when none is configured
const DefaultMinCoverage = 80.0

var (
	lintMarkers = []string{
		"lint error",
		"eslint",
		"golangci-lint",
		"go vet",
		"problems (",
	}
	typeMarkers = []string{
		"error ts",
		"type error",
		"typeerror",
		"cannot use",
		"undefined:",
		"mismatched types",
	}
)

// Evaluator runs the built-in checks against a result
type Evaluator struct {
	minCoverage float64
}

// NewEvaluator creates an evaluator; a non-positive threshold selects the default
func NewEvaluator(minCoverage float64) *Evaluator {
	if minCoverage <= 0 {
		minCoverage = DefaultMinCoverage
	}
	return &Evaluator{minCoverage: minCoverage}
}

// MinCoverage returns the active coverage threshold
func (e *Evaluator) MinCoverage() float64 {
	return e.minCoverage
}

// Evaluate returns the ordered checks; Passed is the AND of all of them
func (e *Evaluator) Evaluate(r *result.Result) result.QualityGates {
	checks := []result.Check{
		e.allStepsCompleted(r),
		e.testCoverage(r),
		e.noExecutionErrors(r),
	}
	if r.Metadata.ExecutionMode == result.ModeReal {
		checks = append(checks,
			scanOutputs(r, CheckLinting, lintMarkers),
			scanOutputs(r, CheckTypeSafety, typeMarkers),
		)
	}

	gates := result.QualityGates{Passed: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			gates.Passed = false
		}
	}
	return gates
}

func (e *Evaluator) allStepsCompleted(r *result.Result) result.Check {
	ok, total := r.SuccessfulSteps(), len(r.Steps)
	return result.Check{
		Name:    CheckAllStepsCompleted,
		Passed:  ok == total,
		Details: fmt.Sprintf("%d/%d steps succeeded", ok, total),
	}
}

func (e *Evaluator) testCoverage(r *result.Result) result.Check {
	tr := r.Artifacts.TestResults
	if tr == nil || tr.Coverage == nil {
		return result.Check{
			Name:    CheckTestCoverage,
			Passed:  true,
			Details: "no coverage reported; check skipped",
		}
	}
	return result.Check{
		Name:    CheckTestCoverage,
		Passed:  *tr.Coverage >= e.minCoverage,
		Details: fmt.Sprintf("coverage %.1f%% (minimum %.1f%%)", *tr.Coverage, e.minCoverage),
	}
}

func (e *Evaluator) noExecutionErrors(r *result.Result) result.Check {
	var failed []string
	for _, s := range r.Steps {
		if s.Error != nil {
			failed = append(failed, s.StepID)
		}
	}
	if len(failed) == 0 {
		return result.Check{Name: CheckNoErrors, Passed: true, Details: "no step reported an error"}
	}
	return result.Check{
		Name:    CheckNoErrors,
		Passed:  false,
		Details: "errors in steps: " + strings.Join(failed, ", "),
	}
}

func scanOutputs(r *result.Result, name string, markers []string) result.Check {
	for _, s := range r.Steps {
		out := strings.ToLower(s.Validation.Output)
		for _, m := range markers {
			if strings.Contains(out, m) {
				return result.Check{
					Name:    name,
					Passed:  false,
					Details: fmt.Sprintf("step %s output contains %q", s.StepID, m),
				}
			}
		}
	}
	return result.Check{Name: name, Passed: true, Details: "no markers found in step output"}
}
