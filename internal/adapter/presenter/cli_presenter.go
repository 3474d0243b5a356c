package presenter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/application/service"
	"github.com/YoshitsuguKoike/deeflow/internal/application/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
)

const progressWidth = 20

// CLIPresenter implements output.Presenter for human-readable terminal output
type CLIPresenter struct {
	output io.Writer
}

// NewCLIPresenter creates a new CLI presenter
func NewCLIPresenter(output io.Writer) output.Presenter {
	return &CLIPresenter{output: output}
}

// PresentSuccess presents a successful result
func (p *CLIPresenter) PresentSuccess(message string, data interface{}) error {
	fmt.Fprintf(p.output, "✓ %s\n", message)
	if data == nil {
		return nil
	}
	fmt.Fprintln(p.output)

	switch v := data.(type) {
	case *task.Task:
		p.presentTask(v)
	case []*task.Task:
		p.presentTaskList(v)
	case *plan.Plan:
		p.presentPlan(v)
	case []*plan.Plan:
		p.presentPlanList(v)
	case *result.Result:
		p.presentResult(v)
	case *workflow.Outcome:
		p.presentOutcome(v)
	case *workflow.ProcessOutcome:
		p.presentOutcome(&v.Outcome)
		if len(v.Plans) > 0 {
			fmt.Fprintln(p.output)
			p.presentPlanList(v.Plans)
		}
	case *workflow.DecisionOutcome:
		verdict := "rejected"
		if v.Approved {
			verdict = "approved"
		}
		fmt.Fprintf(p.output, "Decision: %s (%s)\n", v.DecisionID, verdict)
		p.presentOutcome(&v.Outcome)
	case *workflow.ResultOutcome:
		p.presentOutcome(&v.Outcome)
		if v.Result != nil {
			fmt.Fprintln(p.output)
			p.presentResult(v.Result)
		}
	case *workflow.BatchReport:
		p.presentBatch(v)
	case *StateView:
		p.presentState(v)
	case []wf.Event:
		p.presentHistory(v)
	case *service.PatternStats:
		p.presentStats(v)
	case []*output.ArtifactMetadata:
		p.presentArtifacts(v)
	case *output.Artifact:
		p.presentArtifacts([]*output.ArtifactMetadata{&v.Metadata})
		fmt.Fprintf(p.output, "\n%s\n", v.Content)
	default:
		fmt.Fprintf(p.output, "%+v\n", data)
	}
	return nil
}

// PresentError presents an error
func (p *CLIPresenter) PresentError(err error) error {
	fmt.Fprintf(p.output, "✗ Error: %v\n", err)
	return err
}

// PresentProgress draws a fixed-width bar; a zero total renders empty
func (p *CLIPresenter) PresentProgress(message string, progress int, total int) error {
	pct := percent(progress, total)
	filled := int(pct / 100 * progressWidth)
	if filled > progressWidth {
		filled = progressWidth
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled)
	fmt.Fprintf(p.output, "\r%s [%s] %.1f%% (%d/%d)", message, bar, pct, progress, total)
	if total > 0 && progress >= total {
		fmt.Fprintln(p.output)
	}
	return nil
}

// PresentTransition prints one hop
func (p *CLIPresenter) PresentTransition(view output.TransitionView) error {
	if view.Success {
		fmt.Fprintf(p.output, "  %s: %s → %s\n", view.Action, displayState(view.From), displayState(view.To))
		return nil
	}
	fmt.Fprintf(p.output, "  %s: %s ✗ %s\n", view.Action, displayState(view.From), view.Error)
	return nil
}

func (p *CLIPresenter) presentTask(t *task.Task) {
	fmt.Fprintf(p.output, "Task: %s\n", t.ID)
	fmt.Fprintf(p.output, "Type: %s\n", t.Type)
	fmt.Fprintf(p.output, "Status: %s\n", t.Status)
	fmt.Fprintf(p.output, "Repository: %s", t.Context.RepositoryID)
	if t.Context.Branch != "" {
		fmt.Fprintf(p.output, " (%s)", t.Context.Branch)
	}
	fmt.Fprintln(p.output)
	fmt.Fprintf(p.output, "Max Duration: %d min\n", t.Constraints.MaxDuration)
	if t.Constraints.MinTestCoverage > 0 {
		fmt.Fprintf(p.output, "Min Coverage: %.0f%%\n", t.Constraints.MinTestCoverage)
	}
	if t.Metadata.Priority != "" {
		fmt.Fprintf(p.output, "Priority: %s\n", t.Metadata.Priority)
	}
	if len(t.Metadata.Labels) > 0 {
		fmt.Fprintf(p.output, "Labels: %s\n", strings.Join(t.Metadata.Labels, ", "))
	}

	fmt.Fprintf(p.output, "\nDescription:\n%s\n", t.Description)
	if t.Intent != "" {
		fmt.Fprintf(p.output, "\nIntent:\n%s\n", t.Intent)
	}
	if len(t.Context.Files) > 0 {
		fmt.Fprintf(p.output, "\nFiles:\n")
		for _, f := range t.Context.Files {
			fmt.Fprintf(p.output, "  - %s\n", f)
		}
	}
}

func (p *CLIPresenter) presentTaskList(tasks []*task.Task) {
	fmt.Fprintf(p.output, "Total: %d tasks\n\n", len(tasks))
	for i, t := range tasks {
		fmt.Fprintf(p.output, "%d. [%s] %s (%s)\n", i+1, t.Type, truncate(t.Description, 60), t.Status)
		fmt.Fprintf(p.output, "   ID: %s\n", t.ID)
	}
}

func (p *CLIPresenter) presentPlan(pl *plan.Plan) {
	fmt.Fprintf(p.output, "Plan: %s (%s)\n", pl.ID, pl.Status)
	fmt.Fprintf(p.output, "Approach: %s\n", pl.Approach)
	fmt.Fprintf(p.output, "Estimate: %d min\n", pl.EstimatedDuration)
	if pl.Reasoning != "" {
		fmt.Fprintf(p.output, "Reasoning: %s\n", pl.Reasoning)
	}

	fmt.Fprintf(p.output, "\nSteps:\n")
	for i, s := range pl.Steps {
		fmt.Fprintf(p.output, "  %d. [%s] %s\n", i+1, s.Agent, s.Action)
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(p.output, "     after: %s\n", strings.Join(s.Dependencies, ", "))
		}
	}

	if len(pl.Risks) > 0 {
		fmt.Fprintf(p.output, "\nRisks:\n")
		for _, r := range pl.Risks {
			fmt.Fprintf(p.output, "  - (%s) %s\n", r.Severity, r.Description)
		}
	}
}

func (p *CLIPresenter) presentPlanList(plans []*plan.Plan) {
	for i, pl := range plans {
		fmt.Fprintf(p.output, "%d. %s [%s] %s: %d steps, %d min\n",
			i+1, pl.ID, pl.Status, pl.Approach, len(pl.Steps), pl.EstimatedDuration)
	}
}

func (p *CLIPresenter) presentResult(r *result.Result) {
	fmt.Fprintf(p.output, "Result: %s (%s)\n", r.ID, r.Status)
	fmt.Fprintf(p.output, "Plan: %s\n", r.PlanID)
	fmt.Fprintf(p.output, "Duration: %dms\n", r.DurationMs)
	if r.Metadata.Executor != "" {
		fmt.Fprintf(p.output, "Executor: %s (%s)\n", r.Metadata.Executor, r.Metadata.ExecutionMode)
	}

	fmt.Fprintf(p.output, "\nSteps:\n")
	for _, s := range r.Steps {
		fmt.Fprintf(p.output, "  %s %s (%dms)\n", stepMark(s.Status), s.StepID, s.DurationMs)
		if s.Error != nil {
			fmt.Fprintf(p.output, "      %s\n", s.Error.Message)
		}
	}

	gate := "passed"
	if !r.QualityGates.Passed {
		gate = "failed"
	}
	fmt.Fprintf(p.output, "\nQuality Gates: %s\n", gate)
	for _, c := range r.QualityGates.Checks {
		mark := "✓"
		if !c.Passed {
			mark = "✗"
		}
		fmt.Fprintf(p.output, "  %s %s: %s\n", mark, c.Name, c.Details)
	}
}

func (p *CLIPresenter) presentOutcome(o *workflow.Outcome) {
	fmt.Fprintf(p.output, "Task: %s\n", o.TaskID)
	for _, v := range TransitionViews(o) {
		_ = p.PresentTransition(v)
	}
	if o.Partial() {
		fmt.Fprintf(p.output, "Partially applied: %d of %d transitions\n", o.Applied(), len(o.Hops))
	}
	if !o.Success && o.Error != "" {
		fmt.Fprintf(p.output, "Not applied: %s\n", o.Error)
	}
}

func (p *CLIPresenter) presentBatch(r *workflow.BatchReport) {
	fmt.Fprintf(p.output, "Started: %d  Succeeded: %d  Failed: %d  Skipped: %d  (%s)\n",
		r.Started, r.Succeeded, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
	for _, item := range r.Items {
		switch {
		case item.Skipped:
			fmt.Fprintf(p.output, "  - %s skipped: %s\n", item.TaskID, item.SkipReason)
		case item.Succeeded():
			fmt.Fprintf(p.output, "  ✓ %s\n", item.TaskID)
		default:
			reason := item.Error
			if reason == "" && item.Outcome != nil {
				reason = item.Outcome.Error
			}
			fmt.Fprintf(p.output, "  ✗ %s: %s\n", item.TaskID, reason)
		}
	}
}

func (p *CLIPresenter) presentState(v *StateView) {
	fmt.Fprintf(p.output, "Task: %s\n", v.TaskID)
	fmt.Fprintf(p.output, "Status: %s\n", v.Status)
	fmt.Fprintf(p.output, "Workflow State: %s\n", displayState(v.State))
	if len(v.ValidActions) == 0 {
		fmt.Fprintf(p.output, "Valid Actions: none (terminal)\n")
		return
	}
	fmt.Fprintf(p.output, "Valid Actions: %s\n", strings.Join(v.ValidActions, ", "))
}

func (p *CLIPresenter) presentHistory(events []wf.Event) {
	if len(events) == 0 {
		fmt.Fprintf(p.output, "No transitions recorded\n")
		return
	}
	for _, e := range events {
		fmt.Fprintf(p.output, "%s  %-20s %s → %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, displayState(string(e.From)), displayState(string(e.State)))
		if reason := e.Metadata[wf.MetaReason]; reason != "" {
			fmt.Fprintf(p.output, "    reason: %s\n", reason)
		}
	}
}

func (p *CLIPresenter) presentStats(s *service.PatternStats) {
	fmt.Fprintf(p.output, "Category: %s\n", s.Category)
	fmt.Fprintf(p.output, "Decisions: %d (%d approved, %.1f%%)\n", s.Total, s.Approved, s.ApprovalRate*100)
	fmt.Fprintf(p.output, "Mean time to decision: %.1f min\n", s.MeanMinutes)
	if len(s.Approaches) > 0 {
		fmt.Fprintf(p.output, "\nApproaches:\n")
		for _, a := range s.Approaches {
			fmt.Fprintf(p.output, "  %-40s %3d decisions  %5.1f%% approved\n", truncate(a.Approach, 40), a.Total, a.ApprovalRate*100)
		}
	}
	if len(s.TopRejections) > 0 {
		fmt.Fprintf(p.output, "\nTop rejection reasons:\n")
		for i, r := range s.TopRejections {
			fmt.Fprintf(p.output, "  %d. %s\n", i+1, r)
		}
	}
}

func (p *CLIPresenter) presentArtifacts(items []*output.ArtifactMetadata) {
	if len(items) == 0 {
		fmt.Fprintln(p.output, "No artifacts archived")
		return
	}
	for _, a := range items {
		fmt.Fprintf(p.output, "%s  %-6s %8d B  %s\n", a.ID, a.Kind, a.Size, a.UploadedAt.Format(time.DateTime))
		fmt.Fprintf(p.output, "  %s\n", a.StoragePath)
	}
}

func displayState(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func stepMark(s result.StepStatus) string {
	switch s {
	case result.StepSuccess:
		return "✓"
	case result.StepSkipped:
		return "-"
	default:
		return "✗"
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
