package presenter

import (
	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/application/workflow"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
)

// StateView describes where a task stands in the workflow
type StateView struct {
	TaskID       string   `json:"task_id"`
	Status       string   `json:"status"`
	State        string   `json:"state"`
	ValidActions []string `json:"valid_actions"`
}

// NewStateView builds a StateView from engine answers
func NewStateView(taskID, status string, state wf.State, actions []wf.Action) *StateView {
	v := &StateView{TaskID: taskID, Status: status, State: string(state), ValidActions: []string{}}
	for _, a := range actions {
		v.ValidActions = append(v.ValidActions, string(a))
	}
	return v
}

// TransitionViews flattens the hops of an outcome
func TransitionViews(o *workflow.Outcome) []output.TransitionView {
	views := make([]output.TransitionView, 0, len(o.Hops))
	for _, h := range o.Hops {
		views = append(views, output.TransitionView{
			TaskID:  o.TaskID,
			Action:  string(h.Action),
			From:    string(h.From),
			To:      string(h.To),
			Success: h.Success,
			Error:   h.Error,
		})
	}
	return views
}

// percent guards against a zero total
func percent(progress, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(progress) / float64(total) * 100
}
