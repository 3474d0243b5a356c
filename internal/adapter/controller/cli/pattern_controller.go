package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PatternController handles approval pattern CLI commands
type PatternController struct {
	s *session
}

// NewPatternController creates a new pattern controller
func NewPatternController(s *session) *PatternController {
	return &PatternController{s: s}
}

// BuildCommand builds the patterns command tree
func (c *PatternController) BuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect how past proposals were decided",
	}
	cmd.AddCommand(c.StatsCommand())
	return cmd
}

// StatsCommand creates 'patterns stats' command
func (c *PatternController) StatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [task-type]",
		Short: "Approval rate, decision time and rejection reasons for a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.s.app.Patterns.Stats(cmd.Context(), args[0])
			if err != nil {
				return c.s.presenter.PresentError(err)
			}
			return c.s.presenter.PresentSuccess(fmt.Sprintf("Approval patterns for %s", args[0]), stats)
		},
	}
}
