package repository

import (
	"context"
	"time"
)

// ApprovalPattern is one observation of a human approving or rejecting a plan
type ApprovalPattern struct {
	ID                string
	Category          string // task type
	Approach          string // normalised approach label
	Approved          bool
	MinutesToDecision float64
	RejectionReason   string
	ProjectID         string
	RecordedAt        time.Time
}

// ApprovalPatternFilter narrows pattern queries
type ApprovalPatternFilter struct {
	Category  string
	Approach  string
	ProjectID string
	Limit     int
}

// ApprovalPatternRepository stores learning-loop observations
type ApprovalPatternRepository interface {
	Save(ctx context.Context, p *ApprovalPattern) error
	List(ctx context.Context, filter ApprovalPatternFilter) ([]*ApprovalPattern, error)
}
