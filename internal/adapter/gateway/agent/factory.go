package agent

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// ExecutorConfig carries the settings the execution agents need
type ExecutorConfig struct {
	WorkDir     string
	StepTimeout time.Duration
	Logger      *zap.Logger
}

// NewPlanningAgent creates a planning agent by name.
// Supported: heuristic
func NewPlanningAgent(name string, planCount int) (output.PlanningAgent, error) {
	switch name {
	case PlannerHeuristic, "":
		return NewHeuristicPlanner(planCount), nil
	default:
		return nil, fmt.Errorf("unknown planner: %s (supported: %s)", name, PlannerHeuristic)
	}
}

// NewExecutionAgent creates an execution agent by name.
// Supported: simulated, command
func NewExecutionAgent(name string, cfg ExecutorConfig) (output.ExecutionAgent, error) {
	switch name {
	case ExecutorSimulated, "":
		return NewSimulatedExecutor(), nil

	case ExecutorCommand:
		dir := cfg.WorkDir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("resolve working directory: %w", err)
			}
			dir = wd
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("command executor work dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("command executor work dir %s is not a directory", dir)
		}
		return NewCommandExecutor(dir, cfg.StepTimeout, cfg.Logger), nil

	default:
		return nil, fmt.Errorf("unknown executor: %s (supported: %s, %s)", name, ExecutorSimulated, ExecutorCommand)
	}
}

// AvailableExecutors lists the executor names NewExecutionAgent accepts
func AvailableExecutors() []string {
	return []string{ExecutorSimulated, ExecutorCommand}
}
