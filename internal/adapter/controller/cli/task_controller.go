package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// TaskController handles task CLI commands
type TaskController struct {
	s *session
}

// NewTaskController creates a new task controller
func NewTaskController(s *session) *TaskController {
	return &TaskController{s: s}
}

// BuildCommand builds the task command tree
func (c *TaskController) BuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and inspect tasks",
	}
	cmd.AddCommand(
		c.CreateCommand(),
		c.ShowCommand(),
		c.ListCommand(),
	)
	return cmd
}

// taskFlags are the fields settable from the command line
type taskFlags struct {
	taskType         string
	description      string
	repo             string
	branch           string
	files            []string
	dependencies     []string
	maxDuration      int
	requiresApproval bool
	allowBreaking    bool
	minCoverage      float64
	priority         string
	labels           []string
	intent           string
	createdBy        string
}

// apply copies every flag for which set reports true onto t
func (f *taskFlags) apply(t *task.Task, set func(name string) bool) {
	if set("type") {
		t.Type = model.TaskType(f.taskType)
	}
	if set("description") {
		t.Description = f.description
	}
	if set("repo") {
		t.Context.RepositoryID = f.repo
	}
	if set("branch") {
		t.Context.Branch = f.branch
	}
	if set("files") {
		t.Context.Files = f.files
	}
	if set("depends-on") {
		t.Context.Dependencies = f.dependencies
	}
	if set("max-duration") {
		t.Constraints.MaxDuration = f.maxDuration
	}
	if set("requires-approval") {
		t.Constraints.RequiresApproval = f.requiresApproval
	}
	if set("allow-breaking") {
		t.Constraints.AllowBreakingChanges = f.allowBreaking
	}
	if set("min-coverage") {
		t.Constraints.MinTestCoverage = f.minCoverage
	}
	if set("priority") {
		t.Metadata.Priority = f.priority
	}
	if set("labels") {
		t.Metadata.Labels = f.labels
	}
	if set("intent") {
		t.Intent = f.intent
	}
	if set("created-by") {
		t.Metadata.CreatedBy = f.createdBy
	}
}

// CreateCommand creates 'task create' command
func (c *TaskController) CreateCommand() *cobra.Command {
	var (
		flags taskFlags
		file  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task and start planning",
		Long: `Create a task from flags or from a YAML document (-f). Flags given
together with -f override the document.`,
		Example: `  deeflow task create --type feature --description "Add login" --repo web --files auth.go
  deeflow task create -f task.yaml --priority high`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := &task.Task{}
			set := func(string) bool { return true }
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return c.s.presenter.PresentError(fmt.Errorf("read task file: %w", err))
				}
				if err := yaml.Unmarshal(data, t); err != nil {
					return c.s.presenter.PresentError(fmt.Errorf("parse task file %s: %w", file, err))
				}
				set = cmd.Flags().Changed
			}
			flags.apply(t, set)

			out, err := c.s.app.Engine.CreateTaskWorkflow(cmd.Context(), t)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.report(fmt.Sprintf("Task %s created", t.ID), out, out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the task from a YAML file")
	cmd.Flags().StringVar(&flags.taskType, "type", string(model.TaskTypeFeature), "Task type (feature, bugfix, refactor, docs, test, infra)")
	cmd.Flags().StringVarP(&flags.description, "description", "d", "", "What should be done")
	cmd.Flags().StringVar(&flags.repo, "repo", "", "Repository identifier")
	cmd.Flags().StringVar(&flags.branch, "branch", "main", "Target branch")
	cmd.Flags().StringSliceVar(&flags.files, "files", nil, "Files the task touches")
	cmd.Flags().StringSliceVar(&flags.dependencies, "depends-on", nil, "Task IDs this task depends on")
	cmd.Flags().IntVar(&flags.maxDuration, "max-duration", 60, "Time budget in minutes")
	cmd.Flags().BoolVar(&flags.requiresApproval, "requires-approval", true, "Require a human decision before execution")
	cmd.Flags().BoolVar(&flags.allowBreaking, "allow-breaking", false, "Allow breaking changes")
	cmd.Flags().Float64Var(&flags.minCoverage, "min-coverage", 80, "Minimum test coverage in percent")
	cmd.Flags().StringVar(&flags.priority, "priority", "", "Priority label")
	cmd.Flags().StringSliceVar(&flags.labels, "labels", nil, "Free-form labels")
	cmd.Flags().StringVar(&flags.intent, "intent", "", "Why the task exists")
	cmd.Flags().StringVar(&flags.createdBy, "created-by", os.Getenv("USER"), "Author recorded on the task")

	return cmd
}

// ShowCommand creates 'task show' command
func (c *TaskController) ShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [task-id]",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.s.app.Tasks.Find(cmd.Context(), args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.presenter.PresentSuccess("Task details", t)
		},
	}
}

// ListCommand creates 'task list' command
func (c *TaskController) ListCommand() *cobra.Command {
	var (
		statuses []string
		types    []string
		repo     string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repository.TaskFilter{
				RepositoryID: repo,
				Limit:        limit,
				Offset:       offset,
			}
			for _, s := range statuses {
				st := model.TaskStatus(s)
				if !st.IsValid() {
					return c.s.presenter.PresentError(fmt.Errorf("invalid status filter: %q", s))
				}
				filter.Statuses = append(filter.Statuses, st)
			}
			for _, s := range types {
				tt := model.TaskType(s)
				if !tt.IsValid() {
					return c.s.presenter.PresentError(fmt.Errorf("invalid type filter: %q", s))
				}
				filter.Types = append(filter.Types, tt)
			}

			tasks, err := c.s.app.Tasks.List(cmd.Context(), filter)
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.presenter.PresentSuccess("Tasks", tasks)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Filter by type")
	cmd.Flags().StringVar(&repo, "repo", "", "Filter by repository")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tasks")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")

	return cmd
}
