package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// PlanController handles plan CLI commands
type PlanController struct {
	s *session
}

// NewPlanController creates a new plan controller
func NewPlanController(s *session) *PlanController {
	return &PlanController{s: s}
}

// BuildCommand builds the plan command tree
func (c *PlanController) BuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect plan proposals",
	}
	cmd.AddCommand(
		c.ListCommand(),
		c.ShowCommand(),
		c.ExportCommand(),
	)
	return cmd
}

// ListCommand creates 'plan list' command
func (c *PlanController) ListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [task-id]",
		Short: "List the plans of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := c.s.app.Plans.ListByTask(cmd.Context(), args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.presenter.PresentSuccess(fmt.Sprintf("Plans of %s", args[0]), plans)
		},
	}
}

// ShowCommand creates 'plan show' command
func (c *PlanController) ShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [plan-id]",
		Short: "Show a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.s.app.Plans.Find(cmd.Context(), args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.presenter.PresentSuccess("Plan details", p)
		},
	}
}

// ExportCommand creates 'plan export' command
func (c *PlanController) ExportCommand() *cobra.Command {
	var (
		file    string
		archive bool
	)

	cmd := &cobra.Command{
		Use:   "export [plan-id]",
		Short: "Write a plan as YAML",
		Long: `Write a plan as YAML to stdout or --file. With --archive the document
is also stored in the artifact storage next to the task's logs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := c.s.app.Plans.Find(ctx, args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			data, err := yaml.Marshal(p)
			if err != nil {
				return c.s.presenter.PresentError(fmt.Errorf("encode plan %s: %w", p.ID, err))
			}

			if archive {
				if c.s.app.Storage == nil {
					return c.s.presenter.PresentError(ErrStorageDisabled)
				}
				meta, err := c.s.app.Storage.SaveArtifact(ctx, output.SaveArtifactRequest{
					TaskID:      p.TaskID,
					Kind:        output.ArtifactKindPlan,
					Content:     data,
					ContentType: "application/yaml",
					Metadata:    map[string]string{"plan_id": p.ID},
				})
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				c.s.app.Logger.Info("plan archived", zap.String("plan_id", p.ID), zap.String("artifact_id", meta.ID))
				if file == "" {
					return c.s.presenter.PresentSuccess("Plan archived", []*output.ArtifactMetadata{meta})
				}
			}

			if file == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(file, data, 0o644); err != nil {
				return c.s.presenter.PresentError(fmt.Errorf("write %s: %w", file, err))
			}
			return c.s.presenter.PresentSuccess(fmt.Sprintf("Plan %s written to %s", p.ID, file), nil)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Also store the plan in artifact storage")

	return cmd
}
