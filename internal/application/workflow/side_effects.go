package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/decision"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/metrics"
)

const unspecifiedApproach = "unspecified"

// recordPattern dispatches the learning-loop observation. Failures and panics
// are logged here and never reach the decision outcome.
func (e *Engine) recordPattern(ctx context.Context, t *task.Task, p *plan.Plan, d *decision.Decision, approved bool) {
	if e.patterns == nil {
		return
	}

	obs := output.ApprovalObservation{
		Category:  t.Type.String(),
		Approach:  unspecifiedApproach,
		Approved:  approved,
		ProjectID: t.Context.RepositoryID,
	}
	if p != nil {
		obs.Approach = p.Approach
		if !p.CreatedAt.IsZero() {
			obs.MinutesToDecision = d.CreatedAt.Sub(p.CreatedAt).Minutes()
		}
	}
	if !approved {
		obs.RejectionReason = d.Rationale
	}

	if err := e.safeRecord(context.WithoutCancel(ctx), obs); err != nil {
		metrics.PatternRecordFailures.Inc()
		e.logger.Warn("approval pattern not recorded",
			zap.String("task_id", t.ID),
			zap.String("decision_id", d.ID),
			zap.Error(err))
	}
}

func (e *Engine) safeRecord(ctx context.Context, obs output.ApprovalObservation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pattern recorder panicked: %v", r)
		}
	}()
	return e.patterns.Record(ctx, obs)
}

// archiveLogs copies the execution log lines to the storage gateway, best-effort
func (e *Engine) archiveLogs(ctx context.Context, r *result.Result) {
	if e.storage == nil || len(r.Metadata.Logs) == 0 {
		return
	}

	meta, err := e.storage.SaveArtifact(ctx, output.SaveArtifactRequest{
		TaskID:      r.TaskID,
		ResultID:    r.ID,
		Kind:        output.ArtifactKindLog,
		Content:     []byte(strings.Join(r.Metadata.Logs, "\n") + "\n"),
		ContentType: "text/plain",
		Metadata: map[string]string{
			"plan_id":  r.PlanID,
			"executor": r.Metadata.Executor,
			"status":   string(r.Status),
		},
	})
	if err != nil {
		metrics.ArtifactArchiveFailures.Inc()
		e.logger.Warn("execution logs not archived",
			zap.String("result_id", r.ID),
			zap.Error(err))
		return
	}
	e.logger.Debug("execution logs archived",
		zap.String("result_id", r.ID),
		zap.String("path", meta.StoragePath),
		zap.Int64("bytes", meta.Size))
}
