package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/deeflow/internal/application/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/decision"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/plan"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/result"
)

// WorkflowController handles workflow execution CLI commands
type WorkflowController struct {
	s *session
}

// NewWorkflowController creates a new workflow controller
func NewWorkflowController(s *session) *WorkflowController {
	return &WorkflowController{s: s}
}

// BuildCommand builds the workflow command tree
func (c *WorkflowController) BuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Move tasks through the workflow",
	}
	cmd.AddCommand(
		c.ProcessCommand(),
		c.ApproveCommand(),
		c.RejectCommand(),
		c.ExecuteCommand(),
		c.RunCommand(),
		c.RecordCommand(),
		c.VerifyCommand(),
		c.RetryCommand(),
		c.FailCommand(),
		c.StateCommand(),
		c.HistoryCommand(),
		c.WatchCommand(),
	)
	return cmd
}

// ProcessCommand creates 'workflow process' command
func (c *WorkflowController) ProcessCommand() *cobra.Command {
	var (
		feedback string
		all      bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "process [task-id]",
		Short: "Generate plan proposals for a task",
		Long: `Generate plan proposals and move the task to awaiting_human_decision.
Rejected and failed tasks are retried first. With --all every pending
task is processed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				report, err := c.s.app.Batch.PlanPending(cmd.Context(), limit)
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				return c.s.presenter.PresentSuccess("Planning batch finished", report)
			}
			if len(args) == 0 {
				return c.s.presenter.PresentError(errors.New("task id required (or --all)"))
			}

			if err := c.s.presenter.PresentProgress("Generating proposals...", 0, 0); err != nil {
				return err
			}
			out, err := c.s.app.Engine.ProcessTask(cmd.Context(), args[0], feedback)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report(fmt.Sprintf("%d proposals ready for review", len(out.Plans)), out, &out.Outcome)
		},
	}

	cmd.Flags().StringVar(&feedback, "feedback", "", "Guidance for the planner (defaults to the last rejection rationale)")
	cmd.Flags().BoolVar(&all, "all", false, "Process every pending task")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum tasks per batch (0 = no limit)")

	return cmd
}

// decisionFlags are shared by approve and reject
type decisionFlags struct {
	planID    string
	category  string
	rationale string
	decidedBy string
}

func (f *decisionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.planID, "plan", "", "Plan ID")
	cmd.Flags().StringVar(&f.category, "category", string(decision.CategoryArchitecture), "Decision category (architecture, ux, performance, security, integration)")
	cmd.Flags().StringVar(&f.rationale, "rationale", "", "Why the decision was made")
	cmd.Flags().StringVar(&f.decidedBy, "by", os.Getenv("USER"), "Who decided")
}

// ApproveCommand creates 'workflow approve' command
func (c *WorkflowController) ApproveCommand() *cobra.Command {
	var flags decisionFlags

	cmd := &cobra.Command{
		Use:   "approve [task-id]",
		Short: "Approve one of the proposed plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			plans, err := c.s.app.Plans.ListByTask(cmd.Context(), taskID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			selected := -1
			for i, p := range plans {
				if p.ID == flags.planID {
					selected = i
				}
			}
			if selected < 0 {
				return c.s.presenter.PresentError(fmt.Errorf("plan %q is not a proposal of task %s", flags.planID, taskID))
			}

			d := decision.NewApproval(taskID, flags.planID, selected, decision.Category(flags.category), flags.rationale)
			d.Proposals = proposals(plans)
			out, err := c.s.app.Engine.RecordDecision(cmd.Context(), d, flags.decidedBy)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report("Plan approved", out, &out.Outcome)
		},
	}

	flags.register(cmd)
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

// RejectCommand creates 'workflow reject' command
func (c *WorkflowController) RejectCommand() *cobra.Command {
	var flags decisionFlags

	cmd := &cobra.Command{
		Use:   "reject [task-id]",
		Short: "Reject the proposals of a task",
		Long: `Reject one plan (--plan) or, without it, every proposed plan. The
rationale is handed to the planner on the next process run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			plans, err := c.s.app.Plans.ListByTask(cmd.Context(), taskID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}

			d := decision.NewRejection(taskID, flags.planID, decision.Category(flags.category), flags.rationale)
			d.Proposals = proposals(plans)
			out, err := c.s.app.Engine.RecordDecision(cmd.Context(), d, flags.decidedBy)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report("Proposals rejected", out, &out.Outcome)
		},
	}

	flags.register(cmd)
	_ = cmd.MarkFlagRequired("rationale")

	return cmd
}

// proposals snapshots the plans a decision was made against
func proposals(plans []*plan.Plan) []decision.Proposal {
	out := make([]decision.Proposal, 0, len(plans))
	for _, p := range plans {
		var risks []string
		for _, r := range p.Risks {
			risks = append(risks, r.Description)
		}
		out = append(out, decision.Proposal{
			Approach:  p.Approach,
			Reasoning: p.Reasoning,
			Tradeoffs: decision.Tradeoffs{Risks: risks},
		})
	}
	return out
}

// ExecuteCommand creates 'workflow execute' command
func (c *WorkflowController) ExecuteCommand() *cobra.Command {
	var (
		planID    string
		startOnly bool
		all       bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "execute [task-id]",
		Short: "Start and run the approved plan of a task",
		Long: `Apply START_EXECUTION and run the execution agent. With --start-only
the task is left in executing for an external runner, which reports back
with 'workflow record'. With --all every approved task is executed;
tasks touching the same files are never run together.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if all {
				report, err := c.s.app.Batch.ExecuteApproved(ctx, limit)
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				return c.s.presenter.PresentSuccess("Execution batch finished", report)
			}
			if len(args) == 0 {
				return c.s.presenter.PresentError(errors.New("task id required (or --all)"))
			}
			taskID := args[0]

			if planID == "" {
				p, err := c.s.latestPlan(ctx, taskID, plan.StatusApproved)
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				planID = p.ID
			}

			started, err := c.s.app.Engine.ExecuteApprovedPlan(ctx, planID, taskID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			if startOnly || !started.Success {
				return c.s.report("Execution started", started, started)
			}

			if err := c.s.presenter.PresentProgress("Executing plan...", 0, 0); err != nil {
				return err
			}
			ran, err := c.s.app.Engine.RunExecution(ctx, planID, taskID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			ran.Hops = append(started.Hops, ran.Hops...)
			return c.s.report("Execution finished", ran, &ran.Outcome)
		},
	}

	cmd.Flags().StringVar(&planID, "plan", "", "Plan ID (defaults to the approved plan)")
	cmd.Flags().BoolVar(&startOnly, "start-only", false, "Only apply START_EXECUTION")
	cmd.Flags().BoolVar(&all, "all", false, "Execute every approved task")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum tasks per batch (0 = no limit)")

	return cmd
}

// RunCommand creates 'workflow run' command
func (c *WorkflowController) RunCommand() *cobra.Command {
	var planID string

	cmd := &cobra.Command{
		Use:   "run [task-id]",
		Short: "Run the execution agent for an executing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID := args[0]
			if planID == "" {
				p, err := c.s.latestPlan(ctx, taskID, plan.StatusExecuting)
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				planID = p.ID
			}

			out, err := c.s.app.Engine.RunExecution(ctx, planID, taskID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report("Execution finished", out, &out.Outcome)
		},
	}

	cmd.Flags().StringVar(&planID, "plan", "", "Plan ID (defaults to the executing plan)")

	return cmd
}

// RecordCommand creates 'workflow record' command
func (c *WorkflowController) RecordCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "record [task-id]",
		Short: "Record an execution result produced outside deeflow",
		Long: `Read a result document (JSON) and apply EXECUTION_COMPLETE. Missing
ids are filled in from the task and its executing plan. Quality gates are
evaluated before the result is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(file)
			if err != nil {
				return c.s.presenter.PresentError(fmt.Errorf("read result file: %w", err))
			}
			r := &result.Result{}
			if err := json.Unmarshal(data, r); err != nil {
				return c.s.presenter.PresentError(fmt.Errorf("parse result file %s: %w", file, err))
			}
			if r.TaskID == "" {
				r.TaskID = args[0]
			}
			if r.TaskID != args[0] {
				return c.s.presenter.PresentError(fmt.Errorf("result belongs to task %s, not %s", r.TaskID, args[0]))
			}
			if r.PlanID == "" {
				p, err := c.s.latestPlan(ctx, r.TaskID, plan.StatusExecuting)
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				r.PlanID = p.ID
			}

			out, err := c.s.app.Engine.RecordResult(ctx, r)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report("Result recorded", out, &out.Outcome)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Result document")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// VerifyCommand creates 'workflow verify' command
func (c *WorkflowController) VerifyCommand() *cobra.Command {
	var (
		failed bool
		reason string
	)

	cmd := &cobra.Command{
		Use:   "verify [task-id]",
		Short: "Accept or refuse the execution result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.s.app.Engine.VerifyResult(cmd.Context(), args[0], !failed, reason)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			message := "Task completed"
			if failed {
				message = "Verification failed, task marked failed"
			}
			return c.s.report(message, out, out)
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "The result did not pass verification")
	cmd.Flags().StringVar(&reason, "reason", "", "Verification note")

	return cmd
}

// RetryCommand creates 'workflow retry' command
func (c *WorkflowController) RetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id]",
		Short: "Send a rejected or failed task back to task_created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.s.app.Engine.RetryTask(cmd.Context(), args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report("Task reset for retry", out, out)
		},
	}
}

// FailCommand creates 'workflow fail' command
func (c *WorkflowController) FailCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail [task-id]",
		Short: "Mark a task failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.s.app.Engine.FailTask(cmd.Context(), args[0], reason)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report("Task marked failed", out, out)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the task failed")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

// StateCommand creates 'workflow state' command
func (c *WorkflowController) StateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state [task-id]",
		Short: "Show the workflow state and the actions available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := c.s.app.Tasks.Find(ctx, args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			state, err := c.s.app.Engine.WorkflowState(ctx, t.ID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			actions, err := c.s.app.Engine.ValidActions(ctx, t.ID)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			view := presenter.NewStateView(t.ID, t.Status.String(), state, actions)
			return c.s.presenter.PresentSuccess("Workflow state", view)
		},
	}
}

// HistoryCommand creates 'workflow history' command
func (c *WorkflowController) HistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history [task-id]",
		Short: "Show the recorded transitions of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := c.s.app.History(args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.presenter.PresentSuccess(fmt.Sprintf("%d transitions", len(events)), events)
		},
	}
}

// WatchCommand creates 'workflow watch' command
func (c *WorkflowController) WatchCommand() *cobra.Command {
	var (
		interval time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Plan pending and execute approved tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = c.s.app.WatchInterval
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher := workflow.NewWatcher(c.s.app.Batch, interval, limit)
			err := watcher.Run(ctx, func(planned, executed *workflow.BatchReport) {
				if planned != nil && len(planned.Items) > 0 {
					_ = c.s.presenter.PresentSuccess("Planned", planned)
				}
				if executed != nil && len(executed.Items) > 0 {
					_ = c.s.presenter.PresentSuccess("Executed", executed)
				}
			})
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			stats := watcher.Stats()
			return c.s.presenter.PresentSuccess("Watch stopped", map[string]interface{}{
				"cycles":    stats.Cycles,
				"succeeded": stats.SuccessfulRuns,
				"failed":    stats.FailedRuns,
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (defaults to batch.watch_interval)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum tasks per batch (0 = no limit)")

	return cmd
}
