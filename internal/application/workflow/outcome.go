package workflow

import (
	"errors"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
)

// Sentinel errors returned (wrapped) by the engine. Rejected transitions are
// never errors; they come back inside the outcome.
var (
	ErrValidationFailed    = errors.New("pre-execution validation failed")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrInvalidInput        = errors.New("invalid input")
)

// HopResult is one attempted transition of a multi-hop operation
type HopResult struct {
	Action  wf.Action        `json:"action"`
	From    wf.State         `json:"from"`
	To      wf.State         `json:"to,omitempty"`
	Status  model.TaskStatus `json:"status,omitempty"` // durable status written after the hop
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Code    string           `json:"code,omitempty"`
}

// Outcome records which hops of an operation happened. Success is false when
// a hop was rejected by the state machine; earlier hops in Hops stay applied.
type Outcome struct {
	TaskID  string      `json:"task_id"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Hops    []HopResult `json:"hops"`
}

// Transition returns the last attempted hop
func (o *Outcome) Transition() HopResult {
	if len(o.Hops) == 0 {
		return HopResult{}
	}
	return o.Hops[len(o.Hops)-1]
}

// Applied counts the hops that succeeded
func (o *Outcome) Applied() int {
	n := 0
	for _, h := range o.Hops {
		if h.Success {
			n++
		}
	}
	return n
}

// Partial reports whether some but not all hops were applied
func (o *Outcome) Partial() bool {
	n := o.Applied()
	return n > 0 && n < len(o.Hops)
}

// ProcessOutcome is returned by ProcessTask
type ProcessOutcome struct {
	Outcome
	Plans []*plan.Plan `json:"plans,omitempty"`
}

// DecisionOutcome is returned by RecordDecision
type DecisionOutcome struct {
	Outcome
	DecisionID string `json:"decision_id"`
	Approved   bool   `json:"approved"`
}

// ResultOutcome is returned by RunExecution and RecordResult
type ResultOutcome struct {
	Outcome
	ResultID string         `json:"result_id,omitempty"`
	Result   *result.Result `json:"result,omitempty"`
}
