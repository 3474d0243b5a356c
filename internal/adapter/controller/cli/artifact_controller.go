package cli

import (
	"github.com/spf13/cobra"
)

// ArtifactController handles archived artifact CLI commands
type ArtifactController struct {
	s *session
}

// NewArtifactController creates a new artifact controller
func NewArtifactController(s *session) *ArtifactController {
	return &ArtifactController{s: s}
}

// BuildCommand builds the artifacts command tree
func (c *ArtifactController) BuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "artifacts",
		Aliases: []string{"artifact"},
		Short:   "Browse archived execution logs, results and plans",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [task-id]",
			Short: "List the artifacts of a task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if c.s.app.Storage == nil {
					return c.s.presenter.PresentError(ErrStorageDisabled)
				}
				items, err := c.s.app.Storage.ListArtifacts(cmd.Context(), args[0])
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				return c.s.presenter.PresentSuccess("Artifacts", items)
			},
		},
		&cobra.Command{
			Use:   "show [artifact-id]",
			Short: "Print an artifact",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if c.s.app.Storage == nil {
					return c.s.presenter.PresentError(ErrStorageDisabled)
				}
				a, err := c.s.app.Storage.LoadArtifact(cmd.Context(), args[0])
				if err != nil {
					return c.s.presenter.PresentError(err)
				}
				return c.s.presenter.PresentSuccess("Artifact", a)
			},
		},
	)
	return cmd
}
