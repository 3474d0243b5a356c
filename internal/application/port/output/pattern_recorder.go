package output

import "context"

// ApprovalObservation is what the learning loop learns from one decision
type ApprovalObservation struct {
	Category          string // task type
	Approach          string // plan approach label
	Approved          bool
	MinutesToDecision float64
	RejectionReason   string
	ProjectID         string // task repository id
}

// PatternRecorder records approval observations. Callers treat it as best-effort.
type PatternRecorder interface {
	Record(ctx context.Context, obs ApprovalObservation) error
}
