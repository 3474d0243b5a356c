package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransitionContext is the bag of references a transition may be guarded on
type TransitionContext struct {
	TaskID   string
	PlanID   string
	ResultID string
	Reason   string
	Metadata map[string]string
}

// Event is one entry of a task's transition history
type Event struct {
	TaskID    string            `json:"task_id"`
	Action    Action            `json:"action"`
	From      State             `json:"from"`
	State     State             `json:"state"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TransitionResult is the outcome of a single transition attempt
type TransitionResult struct {
	Success bool           `json:"success"`
	From    State          `json:"from"`
	To      State          `json:"to,omitempty"`
	Action  Action         `json:"action"`
	Event   *Event         `json:"event,omitempty"`
	Err     *WorkflowError `json:"-"`
}

// Error returns the failure message, or an empty string on success
func (r TransitionResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Message
}

// EventSink receives every event appended to the history
type EventSink interface {
	Append(event Event) error
}

// StateMachine validates transitions against the table and keeps an
// append-only in-memory history per task. It is not the source of truth for
// the current status; callers persist that after a successful transition.
type StateMachine struct {
	mu      sync.RWMutex
	history map[string][]Event
	sink    EventSink
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a StateMachine
type Option func(*StateMachine)

// WithEventSink externalises history to sink; sink failures are logged only
func WithEventSink(sink EventSink) Option {
	return func(sm *StateMachine) { sm.sink = sink }
}

// WithLogger sets the logger used for sink failures
func WithLogger(logger *zap.Logger) Option {
	return func(sm *StateMachine) { sm.logger = logger }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(sm *StateMachine) { sm.now = now }
}

// NewStateMachine creates a state machine with an empty history
func NewStateMachine(opts ...Option) *StateMachine {
	sm := &StateMachine{
		history: make(map[string][]Event),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// CanTransition reports whether action is defined for state
func (sm *StateMachine) CanTransition(state State, action Action) bool {
	return CanTransition(state, action)
}

// ValidActions enumerates the actions defined for state
func (sm *StateMachine) ValidActions(state State) []Action {
	return ValidActions(state)
}

// Transition attempts to apply action to state. Rejections are returned in
// the result, never panicked or thrown.
func (sm *StateMachine) Transition(state State, action Action, ctx TransitionContext) TransitionResult {
	res := TransitionResult{From: state, Action: action}

	t, ok := lookup(state, action)
	if !ok {
		res.Err = newInvalidTransition(state, action)
		return res
	}
	if t.Guard != nil {
		if unmet := t.Guard(ctx); unmet != "" {
			res.Err = newGuardFailed(state, action, unmet)
			return res
		}
	}

	event := Event{
		TaskID:    ctx.TaskID,
		Action:    action,
		From:      state,
		State:     t.To,
		Timestamp: sm.now(),
		Metadata:  eventMetadata(ctx),
	}

	sm.mu.Lock()
	sm.history[ctx.TaskID] = append(sm.history[ctx.TaskID], event)
	sm.mu.Unlock()

	if sm.sink != nil {
		if err := sm.sink.Append(event); err != nil {
			sm.logger.Warn("event sink append failed",
				zap.String("task_id", ctx.TaskID),
				zap.String("action", action.String()),
				zap.Error(err))
		}
	}

	res.Success = true
	res.To = t.To
	res.Event = &event
	return res
}

// History returns a copy of the events recorded for a task, in order
func (sm *StateMachine) History(taskID string) []Event {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	events := sm.history[taskID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// ClearHistory drops the history of every task
func (sm *StateMachine) ClearHistory() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.history = make(map[string][]Event)
}

// ClearTaskHistory drops the history of one task
func (sm *StateMachine) ClearTaskHistory(taskID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.history, taskID)
}

// Metadata keys stamped on events from the transition context
const (
	MetaPlanID   = "plan_id"
	MetaResultID = "result_id"
	MetaReason   = "reason"
)

func eventMetadata(ctx TransitionContext) map[string]string {
	meta := copyMetadata(ctx.Metadata)
	for k, v := range map[string]string{MetaPlanID: ctx.PlanID, MetaResultID: ctx.ResultID, MetaReason: ctx.Reason} {
		if v == "" {
			continue
		}
		if meta == nil {
			meta = make(map[string]string, 3)
		}
		meta[k] = v
	}
	return meta
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
