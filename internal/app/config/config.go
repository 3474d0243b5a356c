package config

import "time"

// Config provides read-only access to application configuration.
// The app layer depends on this interface only; Load builds it from
// defaults, an optional YAML file and DEEFLOW_* environment variables.
type Config interface {
	// Core settings
	Home() string   // Base directory for deeflow state (DEEFLOW_HOME)
	DBPath() string // SQLite database file (DEEFLOW_DB_PATH)

	// Agents
	Planner() string            // Planning agent name (DEEFLOW_AGENT_PLANNER)
	Executor() string           // Execution agent name (DEEFLOW_AGENT_EXECUTOR)
	PlanCount() int             // Proposals per planning round
	StepTimeout() time.Duration // Per-step timeout for the command executor
	WorkDir() string            // Working directory for the command executor
	AgentSlots() map[string]int // Concurrent executions allowed per agent
	MaxConcurrentPerAgent() int // Default slot count for agents not in AgentSlots

	// Workflow
	MinCoverage() float64         // Quality gate coverage threshold in percent
	BatchParallel() int           // Tasks processed concurrently by batch commands
	WatchInterval() time.Duration // Poll interval of `workflow watch`

	// Outputs
	JournalPath() string     // NDJSON event journal, empty disables
	Storage() StorageConfig
	MetricsTextfile() string // Prometheus textfile written on exit, empty disables

	// Logging
	LogLevel() string  // debug, info, warn, error
	LogFormat() string // console or json

	// Metadata
	ConfigSource() string // "file", "env" or "default"
	ConfigFile() string   // Path of the loaded YAML file, if any
}

// StorageConfig selects the artifact archive backend
type StorageConfig struct {
	Type    string // "", memory, local or s3
	BaseDir string
	Bucket  string
	Prefix  string
	Region  string
}

// AppConfig is the concrete implementation of Config
type AppConfig struct {
	home   string
	dbPath string

	planner     string
	executor    string
	planCount   int
	stepTimeout time.Duration
	workDir     string
	agentSlots  map[string]int
	maxPerAgent int

	minCoverage   float64
	batchParallel int
	watchInterval time.Duration

	journalPath     string
	storage         StorageConfig
	metricsTextfile string

	logLevel  string
	logFormat string

	configSource string
	configFile   string
}

// Home returns the base directory for deeflow state
func (c *AppConfig) Home() string {
	return c.home
}

// DBPath returns the SQLite database path
func (c *AppConfig) DBPath() string {
	return c.dbPath
}

// Planner returns the planning agent name
func (c *AppConfig) Planner() string {
	return c.planner
}

// Executor returns the execution agent name
func (c *AppConfig) Executor() string {
	return c.executor
}

// PlanCount returns how many proposals a planning round asks for
func (c *AppConfig) PlanCount() int {
	return c.planCount
}

// StepTimeout returns the per-step timeout for real execution
func (c *AppConfig) StepTimeout() time.Duration {
	return c.stepTimeout
}

// WorkDir returns the command executor working directory
func (c *AppConfig) WorkDir() string {
	return c.workDir
}

// AgentSlots returns a copy of the per-agent concurrency limits
func (c *AppConfig) AgentSlots() map[string]int {
	out := make(map[string]int, len(c.agentSlots))
	for k, v := range c.agentSlots {
		out[k] = v
	}
	return out
}

func (c *AppConfig) MaxConcurrentPerAgent() int {
	return c.maxPerAgent
}

// MinCoverage returns the coverage threshold in percent
func (c *AppConfig) MinCoverage() float64 {
	return c.minCoverage
}

func (c *AppConfig) BatchParallel() int {
	return c.batchParallel
}

func (c *AppConfig) WatchInterval() time.Duration {
	return c.watchInterval
}

// JournalPath returns the event journal path
func (c *AppConfig) JournalPath() string {
	return c.journalPath
}

// Storage returns the artifact storage settings
func (c *AppConfig) Storage() StorageConfig {
	return c.storage
}

func (c *AppConfig) MetricsTextfile() string {
	return c.metricsTextfile
}

// LogLevel returns the configured log level
func (c *AppConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns the log encoding
func (c *AppConfig) LogFormat() string {
	return c.logFormat
}

// ConfigSource returns where the configuration came from
func (c *AppConfig) ConfigSource() string {
	return c.configSource
}

// ConfigFile returns the loaded YAML path
func (c *AppConfig) ConfigFile() string {
	return c.configFile
}
