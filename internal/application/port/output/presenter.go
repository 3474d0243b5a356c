package output

// Presenter defines the interface for presenting output to users
// Different implementations can format output for CLI, JSON, or other formats
type Presenter interface {
	// PresentSuccess presents a successful result
	PresentSuccess(message string, data interface{}) error

	// PresentError presents an error
	PresentError(err error) error

	// PresentProgress presents progress information
	PresentProgress(message string, progress int, total int) error

	// PresentTransition presents the outcome of a workflow hop
	PresentTransition(view TransitionView) error
}

// TransitionView is the presentation shape of a workflow hop
type TransitionView struct {
	TaskID  string `json:"task_id"`
	Action  string `json:"action"`
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
