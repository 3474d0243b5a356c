package repository

import (
	"context"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/decision"
)

// DecisionRepository is append-only: decisions are never updated after Create
type DecisionRepository interface {
	Create(ctx context.Context, d *decision.Decision) error
	Find(ctx context.Context, id string) (*decision.Decision, error)
	ListByTask(ctx context.Context, taskID string) ([]*decision.Decision, error)
	Delete(ctx context.Context, id string) error
}
