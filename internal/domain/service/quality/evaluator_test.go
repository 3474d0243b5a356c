package quality

import (
	"testing"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coverage(v float64) *float64 { return &v }

func resultWith(steps ...result.StepResult) *result.Result {
	r := result.New("PLAN-1", "TASK-1")
	r.Steps = steps
	r.Metadata.ExecutionMode = result.ModeSimulated
	return r
}

func ok(id string) result.StepResult {
	return result.StepResult{StepID: id, Status: result.StepSuccess, Validation: result.ValidationOutcome{Passed: true}}
}

func names(gates result.QualityGates) []string {
	var out []string
	for _, c := range gates.Checks {
		out = append(out, c.Name)
	}
	return out
}

func TestAllStepsSucceed(t *testing.T) {
	gates := NewEvaluator(0).Evaluate(resultWith(ok("s1"), ok("s2")))

	assert.True(t, gates.Passed)
	assert.Equal(t, []string{CheckAllStepsCompleted, CheckTestCoverage, CheckNoErrors}, names(gates))
	assert.Equal(t, "2/2 steps succeeded", gates.Checks[0].Details)
}

func TestFailedStep(t *testing.T) {
	failed := result.StepResult{StepID: "s2", Status: result.StepFailure}
	gates := NewEvaluator(0).Evaluate(resultWith(ok("s1"), failed))

	assert.False(t, gates.Passed)
	assert.False(t, gates.Checks[0].Passed)
	assert.True(t, gates.Checks[2].Passed, "a failed step without an error object is not an execution error")
}

func TestStepError(t *testing.T) {
	broken := ok("s1")
	broken.Error = &result.StepError{Message: "boom"}
	gates := NewEvaluator(0).Evaluate(resultWith(broken))

	assert.False(t, gates.Passed)
	assert.True(t, gates.Checks[0].Passed)
	assert.False(t, gates.Checks[2].Passed)
	assert.Contains(t, gates.Checks[2].Details, "s1")
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		name     string
		summary  *result.TestSummary
		min      float64
		passed   bool
		contains string
	}{
		{"absent summary", nil, 0, true, "skipped"},
		{"absent coverage", &result.TestSummary{Passed: 3}, 0, true, "skipped"},
		{"above default", &result.TestSummary{Coverage: coverage(85)}, 0, true, "85.0%"},
		{"exactly default", &result.TestSummary{Coverage: coverage(80)}, 0, true, "80.0%"},
		{"below default", &result.TestSummary{Coverage: coverage(79.9)}, 0, false, "minimum 80.0%"},
		{"custom threshold", &result.TestSummary{Coverage: coverage(65)}, 60, true, "minimum 60.0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resultWith(ok("s1"))
			r.Artifacts.TestResults = tt.summary

			gates := NewEvaluator(tt.min).Evaluate(r)

			check := gates.Checks[1]
			assert.Equal(t, CheckTestCoverage, check.Name)
			assert.Equal(t, tt.passed, check.Passed)
			assert.Contains(t, check.Details, tt.contains)
			assert.Equal(t, tt.passed, gates.Passed)
		})
	}
}

func TestRealModeChecks(t *testing.T) {
	lint := ok("s1")
	lint.Validation.Output = "src/a.ts: 3 problems (3 errors, 0 warnings)"
	types := ok("s2")
	types.Validation.Output = "src/b.ts(4,2): error TS2322: Type 'string' is not assignable"

	r := resultWith(lint, types)
	r.Metadata.ExecutionMode = result.ModeReal

	gates := NewEvaluator(0).Evaluate(r)

	require.Len(t, gates.Checks, 5)
	assert.Equal(t, CheckLinting, gates.Checks[3].Name)
	assert.False(t, gates.Checks[3].Passed)
	assert.Equal(t, CheckTypeSafety, gates.Checks[4].Name)
	assert.False(t, gates.Checks[4].Passed)
	assert.False(t, gates.Passed)
}

func TestRealModeCleanOutput(t *testing.T) {
	clean := ok("s1")
	clean.Validation.Output = "ok  github.com/acme/app 0.12s"
	r := resultWith(clean)
	r.Metadata.ExecutionMode = result.ModeReal

	gates := NewEvaluator(0).Evaluate(r)

	assert.Len(t, gates.Checks, 5)
	assert.True(t, gates.Passed)
}

func TestSimulatedSkipsHeuristics(t *testing.T) {
	noisy := ok("s1")
	noisy.Validation.Output = "type error everywhere"

	gates := NewEvaluator(0).Evaluate(resultWith(noisy))

	assert.Len(t, gates.Checks, 3)
	assert.True(t, gates.Passed)
}
