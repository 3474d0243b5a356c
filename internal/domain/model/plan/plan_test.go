package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidPlan() *Plan {
	return &Plan{
		ID:       "PLAN-1",
		TaskID:   "TASK-1",
		Version:  "1.0.0",
		Approach: "Incremental refactor",
		Steps: []Step{
			{ID: "step-001", Agent: RoleArchitect, Action: "Design module boundaries",
				Validation: StepValidation{Command: "go vet ./...", SuccessCriteria: "exit 0"}},
			{ID: "step-002", Agent: RoleCoder, Action: "Move files", Dependencies: []string{"step-001"},
				Validation: StepValidation{Command: "go build ./...", SuccessCriteria: "exit 0"}},
		},
		EstimatedDuration: 90,
		Risks:             []Risk{{Description: "import cycles", Severity: SeverityMedium, Mitigation: "interfaces"}},
		Status:            StatusProposed,
	}
}

func TestPlan_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Plan)
		wantErr string
	}{
		{name: "valid plan", mutate: func(p *Plan) {}},
		{name: "missing id", mutate: func(p *Plan) { p.ID = "" }, wantErr: "id"},
		{name: "missing task", mutate: func(p *Plan) { p.TaskID = "" }, wantErr: "task_id"},
		{name: "no steps", mutate: func(p *Plan) { p.Steps = nil }, wantErr: "at least one step"},
		{name: "short estimate", mutate: func(p *Plan) { p.EstimatedDuration = 29 }, wantErr: "at least 30"},
		{name: "bad role", mutate: func(p *Plan) { p.Steps[0].Agent = "pilot" }, wantErr: "unsupported agent"},
		{name: "empty action", mutate: func(p *Plan) { p.Steps[1].Action = "" }, wantErr: "action is required"},
		{name: "bad severity", mutate: func(p *Plan) { p.Risks[0].Severity = "severe" }, wantErr: "invalid severity"},
		{name: "bad status", mutate: func(p *Plan) { p.Status = "done" }, wantErr: "invalid plan status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newValidPlan()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlan_MarkApprovedAndRejected(t *testing.T) {
	p := newValidPlan()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	p.MarkApproved("alice", at)
	assert.Equal(t, StatusApproved, p.Status)
	assert.True(t, p.Metadata.Approved)
	assert.Equal(t, "alice", p.Metadata.ApprovedBy)
	require.NotNil(t, p.Metadata.ApprovedAt)
	assert.Equal(t, at, *p.Metadata.ApprovedAt)

	p.MarkRejected(at.Add(time.Minute))
	assert.Equal(t, StatusRejected, p.Status)
	assert.False(t, p.Metadata.Approved)
}

func TestPlan_StepIndex(t *testing.T) {
	p := newValidPlan()
	assert.Equal(t, 1, p.StepIndex("step-002"))
	assert.Equal(t, -1, p.StepIndex("step-999"))
}
