package workflow

import (
	"fmt"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
)

// statusToState is the single bijection between durable status and workflow state
var statusToState = map[model.TaskStatus]State{
	model.TaskStatusPending:               StateTaskCreated,
	model.TaskStatusPlanning:              StateAwaitingProposals,
	model.TaskStatusAwaitingHumanDecision: StateAwaitingHumanDecision,
	model.TaskStatusApproved:              StatePlanApproved,
	model.TaskStatusRejected:              StatePlanRejected,
	model.TaskStatusExecuting:             StateExecuting,
	model.TaskStatusAwaitingVerification:  StateAwaitingVerification,
	model.TaskStatusCompleted:             StateCompleted,
	model.TaskStatusFailed:                StateFailed,
}

var stateToStatus = invert(statusToState)

func invert(m map[model.TaskStatus]State) map[State]model.TaskStatus {
	out := make(map[State]model.TaskStatus, len(m))
	for status, state := range m {
		out[state] = status
	}
	return out
}

// TaskStatusToWorkflowState translates a durable status into a workflow state
func TaskStatusToWorkflowState(status model.TaskStatus) (State, error) {
	state, ok := statusToState[status]
	if !ok {
		return StateNone, &WorkflowError{
			Code:    CodeUnknownStatus,
			Message: fmt.Sprintf("unknown task status %q", status),
			Details: map[string]interface{}{"status": string(status)},
		}
	}
	return state, nil
}

// WorkflowStateToTaskStatus translates a workflow state into the durable status to persist
func WorkflowStateToTaskStatus(state State) (model.TaskStatus, error) {
	status, ok := stateToStatus[state]
	if !ok {
		return "", &WorkflowError{
			Code:    CodeUnknownStatus,
			Message: fmt.Sprintf("state %s has no durable status", state),
			Details: map[string]interface{}{"state": state.String()},
		}
	}
	return status, nil
}
