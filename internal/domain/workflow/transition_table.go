package workflow

import "strings"

// Action is an event that drives a task from one state to another
type Action string

const (
	ActionCreate            Action = "CREATE"
	ActionStartPlanning     Action = "START_PLANNING"
	ActionProposalsReady    Action = "PROPOSALS_READY"
	ActionApprove           Action = "APPROVE"
	ActionReject            Action = "REJECT"
	ActionRetry             Action = "RETRY"
	ActionStartExecution    Action = "START_EXECUTION"
	ActionExecutionComplete Action = "EXECUTION_COMPLETE"
	ActionVerifySuccess     Action = "VERIFY_SUCCESS"
	ActionVerifyFailure     Action = "VERIFY_FAILURE"
	ActionFail              Action = "FAIL"
)

// AllActions lists every action in table order
var AllActions = []Action{
	ActionCreate,
	ActionStartPlanning,
	ActionProposalsReady,
	ActionApprove,
	ActionReject,
	ActionRetry,
	ActionStartExecution,
	ActionExecutionComplete,
	ActionVerifySuccess,
	ActionVerifyFailure,
	ActionFail,
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// Guard is a precondition on the transition context.
// It returns an empty string when satisfied, otherwise the unmet requirement.
type Guard func(ctx TransitionContext) string

// SideEffect hints what the caller is expected to persist after the hop
type SideEffect string

const (
	EffectNone          SideEffect = ""
	EffectPersistTask   SideEffect = "persist_task"
	EffectGeneratePlans SideEffect = "generate_plans"
	EffectPersistPlans  SideEffect = "persist_plans"
	EffectMarkPlan      SideEffect = "mark_plan"
	EffectRunExecution  SideEffect = "run_execution"
	EffectPersistResult SideEffect = "persist_result"
)

// Transition is one row of the transition table
type Transition struct {
	From       State
	Action     Action
	To         State
	Guard      Guard
	GuardName  string
	SideEffect SideEffect
}

func requirePlanID(action string) Guard {
	return func(ctx TransitionContext) string {
		if ctx.PlanID == "" {
			return "planId is required to " + action
		}
		return ""
	}
}

func requireReason(ctx TransitionContext) string {
	if strings.TrimSpace(ctx.Reason) == "" {
		return "reason is required to reject"
	}
	return ""
}

func requireResultID(ctx TransitionContext) string {
	if ctx.ResultID == "" {
		return "resultId is required to complete execution"
	}
	return ""
}

// transitionTable is the static (state, action) -> state mapping
var transitionTable = buildTransitionTable()

func buildTransitionTable() []Transition {
	table := []Transition{
		{From: StateNone, Action: ActionCreate, To: StateTaskCreated, SideEffect: EffectPersistTask},
		{From: StateTaskCreated, Action: ActionStartPlanning, To: StateAwaitingProposals, SideEffect: EffectGeneratePlans},
		{From: StateAwaitingProposals, Action: ActionProposalsReady, To: StateAwaitingHumanDecision, SideEffect: EffectPersistPlans},
		{From: StateAwaitingHumanDecision, Action: ActionApprove, To: StatePlanApproved,
			Guard: requirePlanID("approve"), GuardName: "plan reference", SideEffect: EffectMarkPlan},
		{From: StateAwaitingHumanDecision, Action: ActionReject, To: StatePlanRejected,
			Guard: requireReason, GuardName: "rejection reason", SideEffect: EffectMarkPlan},
		{From: StatePlanRejected, Action: ActionRetry, To: StateAwaitingProposals, SideEffect: EffectGeneratePlans},
		{From: StateFailed, Action: ActionRetry, To: StateAwaitingProposals, SideEffect: EffectGeneratePlans},
		{From: StatePlanApproved, Action: ActionStartExecution, To: StateExecuting,
			Guard: requirePlanID("start execution"), GuardName: "plan reference", SideEffect: EffectRunExecution},
		{From: StateExecuting, Action: ActionExecutionComplete, To: StateAwaitingVerification,
			Guard: requireResultID, GuardName: "result reference", SideEffect: EffectPersistResult},
		{From: StateAwaitingVerification, Action: ActionVerifySuccess, To: StateCompleted},
		{From: StateAwaitingVerification, Action: ActionVerifyFailure, To: StateFailed},
	}

	// FAIL is ungated from every non-terminal state
	for _, s := range AllStates {
		if !IsTerminalState(s) {
			table = append(table, Transition{From: s, Action: ActionFail, To: StateFailed})
		}
	}
	return table
}

// lookup finds the table row for (state, action)
func lookup(state State, action Action) (Transition, bool) {
	for _, t := range transitionTable {
		if t.From == state && t.Action == action {
			return t, true
		}
	}
	return Transition{}, false
}

// CanTransition reports whether action is defined for state. Guards are not evaluated.
func CanTransition(state State, action Action) bool {
	_, ok := lookup(state, action)
	return ok
}

// ValidActions enumerates the actions defined for state, in table order
func ValidActions(state State) []Action {
	var actions []Action
	for _, t := range transitionTable {
		if t.From == state {
			actions = append(actions, t.Action)
		}
	}
	return actions
}

// Transitions returns a copy of the full table
func Transitions() []Transition {
	out := make([]Transition, len(transitionTable))
	copy(out, transitionTable)
	return out
}
