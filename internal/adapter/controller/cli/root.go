package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/deeflow/internal/metrics"
)

// skipBootstrap marks commands that run without a wired App
const skipBootstrap = "deeflow/skip-bootstrap"

// RootBuilder builds the root CLI command with all subcommands
type RootBuilder struct {
	bootstrap Bootstrap
	session   *session

	// Version info
	version   string
	buildInfo string
}

// NewRootBuilder creates a new root command builder
func NewRootBuilder(bootstrap Bootstrap, version string, buildInfo string) *RootBuilder {
	return &RootBuilder{
		bootstrap: bootstrap,
		session:   &session{},
		version:   version,
		buildInfo: buildInfo,
	}
}

// Build creates the root command with all subcommands
func (b *RootBuilder) Build() *cobra.Command {
	var opts GlobalOptions

	rootCmd := &cobra.Command{
		Use:   "deeflow",
		Short: "deeflow - human-in-the-loop task workflow",
		Long: `deeflow drives development tasks through planning, human approval,
execution and verification. Every step is a transition of the workflow
state machine and is persisted before the command returns.`,
		Version:       b.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			b.session.presenter = presenter.NewPresenter(opts.Output, cmd.OutOrStdout())
			if !needsApp(cmd) || b.session.app != nil {
				return nil
			}
			app, closer, err := b.bootstrap(cmd.Context(), opts)
			if err != nil {
				return b.session.presenter.PresentError(fmt.Errorf("initialize: %w", err))
			}
			b.session.app = app
			b.session.closer = closer
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add global flags
	rootCmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Config file (default ./deeflow.yaml or ~/.deeflow/deeflow.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "Output format (text, json)")

	// Create controllers
	taskController := NewTaskController(b.session)
	workflowController := NewWorkflowController(b.session)
	planController := NewPlanController(b.session)
	patternController := NewPatternController(b.session)
	artifactController := NewArtifactController(b.session)

	// Add subcommands
	rootCmd.AddCommand(
		taskController.BuildCommand(),
		workflowController.BuildCommand(),
		planController.BuildCommand(),
		patternController.BuildCommand(),
		artifactController.BuildCommand(),
		b.versionCommand(),
	)

	return rootCmd
}

// Close flushes the metrics textfile and releases the App, if one was wired
func (b *RootBuilder) Close() error {
	app := b.session.app
	if app == nil {
		return nil
	}
	var errs []error
	if app.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(app.MetricsTextfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if b.session.closer != nil {
		if err := b.session.closer(); err != nil {
			errs = append(errs, err)
		}
	}
	b.session.app = nil
	b.session.closer = nil
	return errors.Join(errs...)
}

// versionCommand creates the 'version' command
func (b *RootBuilder) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipBootstrap: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			versionInfo := map[string]string{
				"version":   b.version,
				"buildInfo": b.buildInfo,
			}
			return b.session.presenter.PresentSuccess("deeflow version", versionInfo)
		},
	}
}

func needsApp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipBootstrap] == "true" || c.Name() == "help" {
			return false
		}
	}
	return true
}
