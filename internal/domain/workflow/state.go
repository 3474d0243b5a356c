package workflow

// State is the in-memory workflow state of a task
type State string

const (
	// StateNone is the pseudo-state of a task that does not exist yet
	StateNone                  State = ""
	StateTaskCreated           State = "task_created"
	StateAwaitingProposals     State = "awaiting_proposals"
	StateAwaitingHumanDecision State = "awaiting_human_decision"
	StatePlanApproved          State = "plan_approved"
	StatePlanRejected          State = "plan_rejected"
	StateExecuting             State = "executing"
	StateAwaitingVerification  State = "awaiting_verification"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
)

// AllStates lists every real state (StateNone excluded)
var AllStates = []State{
	StateTaskCreated,
	StateAwaitingProposals,
	StateAwaitingHumanDecision,
	StatePlanApproved,
	StatePlanRejected,
	StateExecuting,
	StateAwaitingVerification,
	StateCompleted,
	StateFailed,
}

// String returns the string representation of the state
func (s State) String() string {
	if s == StateNone {
		return "null"
	}
	return string(s)
}

// IsValid returns true for every real state
func (s State) IsValid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether no forward progress is possible without RETRY
func IsTerminalState(s State) bool {
	return s == StateCompleted || s == StateFailed || s == StatePlanRejected
}

// RequiresHumanInput reports whether the workflow is blocked on a person
func RequiresHumanInput(s State) bool {
	return s == StateAwaitingHumanDecision || s == StateAwaitingVerification
}

// StateDescription returns a human-readable description of the state
func StateDescription(s State) string {
	switch s {
	case StateNone:
		return "Task does not exist yet"
	case StateTaskCreated:
		return "Task created, planning not started"
	case StateAwaitingProposals:
		return "Generating implementation proposals"
	case StateAwaitingHumanDecision:
		return "Waiting for a human to approve or reject a proposal"
	case StatePlanApproved:
		return "Plan approved, ready to execute"
	case StatePlanRejected:
		return "All proposals rejected; retry to re-plan"
	case StateExecuting:
		return "Executing the approved plan"
	case StateAwaitingVerification:
		return "Execution finished, waiting for verification"
	case StateCompleted:
		return "Task completed and verified"
	case StateFailed:
		return "Task failed; retry to re-plan"
	default:
		return "Unknown state"
	}
}
