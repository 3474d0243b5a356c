package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func allStatesWithNone() []State {
	return append([]State{StateNone}, AllStates...)
}

func TestUndefinedPairsAreRejected(t *testing.T) {
	sm := NewStateMachine()

	for _, state := range allStatesWithNone() {
		for _, action := range AllActions {
			if _, ok := lookup(state, action); ok {
				continue
			}
			t.Run(state.String()+"/"+action.String(), func(t *testing.T) {
				assert.False(t, sm.CanTransition(state, action))

				res := sm.Transition(state, action, TransitionContext{
					TaskID: "TASK-1", PlanID: "PLAN-1", ResultID: "RES-1", Reason: "because",
				})
				assert.False(t, res.Success)
				require.NotNil(t, res.Err)
				assert.Equal(t, CodeInvalidTransition, res.Err.Code)
				assert.True(t, IsInvalidTransition(res.Err))
				assert.Contains(t, res.Error(), action.String())
			})
		}
	}

	assert.Empty(t, sm.History("TASK-1"), "rejected transitions must not be recorded")
}

func TestCreateFromNone(t *testing.T) {
	sm := NewStateMachine()

	res := sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "TASK-1"})

	require.True(t, res.Success)
	assert.Equal(t, StateTaskCreated, res.To)
	require.NotNil(t, res.Event)
	assert.Equal(t, "TASK-1", res.Event.TaskID)
	assert.Equal(t, StateTaskCreated, res.Event.State)
}

func TestGuards(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		action  Action
		ctx     TransitionContext
		success bool
		to      State
		message string
	}{
		{"approve without plan", StateAwaitingHumanDecision, ActionApprove,
			TransitionContext{TaskID: "T"}, false, "", "planId is required to approve"},
		{"approve with plan", StateAwaitingHumanDecision, ActionApprove,
			TransitionContext{TaskID: "T", PlanID: "P"}, true, StatePlanApproved, ""},
		{"reject without reason", StateAwaitingHumanDecision, ActionReject,
			TransitionContext{TaskID: "T"}, false, "", "reason is required to reject"},
		{"reject with blank reason", StateAwaitingHumanDecision, ActionReject,
			TransitionContext{TaskID: "T", Reason: "   "}, false, "", "reason is required to reject"},
		{"reject with reason", StateAwaitingHumanDecision, ActionReject,
			TransitionContext{TaskID: "T", Reason: "too risky"}, true, StatePlanRejected, ""},
		{"start execution without plan", StatePlanApproved, ActionStartExecution,
			TransitionContext{TaskID: "T"}, false, "", "planId is required to start execution"},
		{"complete without result", StateExecuting, ActionExecutionComplete,
			TransitionContext{TaskID: "T"}, false, "", "resultId is required to complete execution"},
		{"complete with result", StateExecuting, ActionExecutionComplete,
			TransitionContext{TaskID: "T", ResultID: "R"}, true, StateAwaitingVerification, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			res := sm.Transition(tt.from, tt.action, tt.ctx)

			assert.Equal(t, tt.success, res.Success)
			if tt.success {
				assert.Equal(t, tt.to, res.To)
				assert.Nil(t, res.Err)
				return
			}
			require.NotNil(t, res.Err)
			assert.True(t, IsGuardFailed(res.Err))
			assert.Equal(t, tt.message, res.Error())
			assert.Empty(t, sm.History("T"))
		})
	}
}

func TestRetryOnlyFromRejectedOrFailed(t *testing.T) {
	for _, state := range allStatesWithNone() {
		want := state == StatePlanRejected || state == StateFailed
		assert.Equal(t, want, CanTransition(state, ActionRetry), "state %s", state)
	}
}

func TestFailFromNonTerminalStates(t *testing.T) {
	for _, state := range AllStates {
		assert.Equal(t, !IsTerminalState(state), CanTransition(state, ActionFail), "state %s", state)
	}
	assert.False(t, CanTransition(StateNone, ActionFail))
}

func TestHappyPath(t *testing.T) {
	sm := NewStateMachine()
	ctx := TransitionContext{TaskID: "TASK-1", PlanID: "PLAN-1", ResultID: "RES-1"}

	steps := []struct {
		action Action
		want   State
		status string
	}{
		{ActionCreate, StateTaskCreated, "pending"},
		{ActionStartPlanning, StateAwaitingProposals, "planning"},
		{ActionProposalsReady, StateAwaitingHumanDecision, "awaiting_human_decision"},
		{ActionApprove, StatePlanApproved, "approved"},
		{ActionStartExecution, StateExecuting, "executing"},
		{ActionExecutionComplete, StateAwaitingVerification, "awaiting_verification"},
		{ActionVerifySuccess, StateCompleted, "completed"},
	}

	state := StateNone
	for _, step := range steps {
		res := sm.Transition(state, step.action, ctx)
		require.True(t, res.Success, "%s from %s: %s", step.action, state, res.Error())
		assert.Equal(t, step.want, res.To)

		status, err := WorkflowStateToTaskStatus(res.To)
		require.NoError(t, err)
		assert.Equal(t, step.status, string(status))
		state = res.To
	}

	assert.True(t, IsTerminalState(state))
	assert.Len(t, sm.History("TASK-1"), len(steps))
}

func TestRejectThenRetry(t *testing.T) {
	sm := NewStateMachine()
	ctx := TransitionContext{TaskID: "TASK-2", Reason: "approach is too invasive"}

	state := StateNone
	for _, action := range []Action{ActionCreate, ActionStartPlanning, ActionProposalsReady, ActionReject, ActionRetry} {
		res := sm.Transition(state, action, ctx)
		require.True(t, res.Success, res.Error())
		state = res.To
	}

	assert.Equal(t, StateAwaitingProposals, state)
	assert.Contains(t, ValidActions(state), ActionProposalsReady)
}

func TestHistory(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sm := NewStateMachine(WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "A"})
	sm.Transition(StateTaskCreated, ActionStartPlanning, TransitionContext{TaskID: "A", Metadata: map[string]string{"k": "v"}})
	sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "B"})

	history := sm.History("A")
	require.Len(t, history, 2)
	assert.Equal(t, StateTaskCreated, history[0].State)
	assert.Equal(t, StateAwaitingProposals, history[1].State)
	assert.True(t, history[0].Timestamp.Before(history[1].Timestamp))
	assert.Equal(t, "v", history[1].Metadata["k"])

	// callers get a copy
	history[0].State = StateFailed
	assert.Equal(t, StateTaskCreated, sm.History("A")[0].State)

	sm.ClearTaskHistory("A")
	assert.Empty(t, sm.History("A"))
	assert.Len(t, sm.History("B"), 1)

	sm.ClearHistory()
	assert.Empty(t, sm.History("B"))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Append(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func TestEventSink(t *testing.T) {
	sink := &recordingSink{}
	sm := NewStateMachine(WithEventSink(sink))

	sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "A"})
	sm.Transition(StateTaskCreated, ActionApprove, TransitionContext{TaskID: "A"})

	require.Len(t, sink.events, 1)
	assert.Equal(t, ActionCreate, sink.events[0].Action)
}

func TestEventSinkFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &recordingSink{err: errors.New("disk full")}
	sm := NewStateMachine(WithEventSink(sink), WithLogger(zap.New(core)))

	res := sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "A"})

	assert.True(t, res.Success)
	assert.Len(t, sm.History("A"), 1)
	assert.Equal(t, 1, logs.FilterMessage("event sink append failed").Len())
}

func TestConcurrentTransitions(t *testing.T) {
	sm := NewStateMachine()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "shared"})
			_ = sm.History("shared")
		}()
	}
	wg.Wait()

	assert.Len(t, sm.History("shared"), 50)
}

func TestStateMachine_EventMetadataFromContext(t *testing.T) {
	sm := NewStateMachine()

	res := sm.Transition(StateNone, ActionCreate, TransitionContext{
		TaskID:   "A",
		PlanID:   "PLAN-1",
		Reason:   "imported",
		Metadata: map[string]string{"source": "cli"},
	})
	require.True(t, res.Success)
	assert.Equal(t, map[string]string{
		"source":   "cli",
		MetaPlanID: "PLAN-1",
		MetaReason: "imported",
	}, res.Event.Metadata)

	res = sm.Transition(StateNone, ActionCreate, TransitionContext{TaskID: "B"})
	require.True(t, res.Success)
	assert.Nil(t, res.Event.Metadata)
}
