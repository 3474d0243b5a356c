package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/controller/cli"
	agentgateway "github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/agent"
	storagegateway "github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/storage"
	appconfig "github.com/YoshitsuguKoike/deeflow/internal/app/config"
	"github.com/YoshitsuguKoike/deeflow/internal/app/logging"
	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/application/service"
	"github.com/YoshitsuguKoike/deeflow/internal/application/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/quality"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/service/validation"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/journal"
	sqliterepo "github.com/YoshitsuguKoike/deeflow/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/deeflow/internal/infrastructure/transaction"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	// Infrastructure Layer - Database
	db *sql.DB

	// Infrastructure Layer - Repositories (SQLite implementations)
	taskRepo     repository.TaskRepository
	planRepo     repository.PlanRepository
	decisionRepo repository.DecisionRepository
	resultRepo   repository.ResultRepository
	patternRepo  repository.ApprovalPatternRepository

	// Infrastructure Layer - Gateways
	planner        output.PlanningAgent
	executor       output.ExecutionAgent
	storageGateway output.StorageGateway // nil when archiving is disabled
	journal        *journal.Journal      // nil when no journal is configured

	// Infrastructure Layer - Transaction Manager
	txManager output.TransactionManager

	// Domain Layer
	stateMachine *wf.StateMachine
	evaluator    *quality.Evaluator
	validator    *validation.Validator

	// Application Layer
	patternService *service.ApprovalPatternService
	agentPool      *service.AgentPool
	engine         *workflow.Engine
	batch          *workflow.BatchRunner

	config Options
}

// Options holds what the container is built from
type Options struct {
	Config appconfig.Config
	Logger *zap.Logger // defaults to a no-op logger
	Fs     afero.Fs    // filesystem for the journal and local storage, defaults to the OS
}

// NewContainer creates and initializes the DI container
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	if opts.Config == nil {
		return nil, errors.New("container requires a configuration")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	c := &Container{config: opts}

	// Initialize dependencies in dependency order
	if err := c.initializeInfrastructure(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	c.initializeDomain()

	if err := c.initializeApplication(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}

	return c, nil
}

// initializeInfrastructure initializes infrastructure layer components
func (c *Container) initializeInfrastructure(ctx context.Context) error {
	cfg := c.config.Config

	// 1. Open the database; migrations run on open
	db, err := sqliterepo.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.db = db

	// 2. Initialize SQLite Repositories
	c.taskRepo = sqliterepo.NewTaskRepository(db)
	c.planRepo = sqliterepo.NewPlanRepository(db)
	c.decisionRepo = sqliterepo.NewDecisionRepository(db)
	c.resultRepo = sqliterepo.NewResultRepository(db)
	c.patternRepo = sqliterepo.NewApprovalPatternRepository(db)

	// 3. Initialize SQLite Transaction Manager
	c.txManager = transaction.NewSQLiteTransactionManager(db)

	// 4. Initialize agents
	if c.planner, err = agentgateway.NewPlanningAgent(cfg.Planner(), cfg.PlanCount()); err != nil {
		return fmt.Errorf("failed to create planning agent: %w", err)
	}
	c.executor, err = agentgateway.NewExecutionAgent(cfg.Executor(), agentgateway.ExecutorConfig{
		WorkDir:     cfg.WorkDir(),
		StepTimeout: cfg.StepTimeout(),
		Logger:      c.config.Logger.Named("executor"),
	})
	if err != nil {
		return fmt.Errorf("failed to create execution agent: %w", err)
	}

	// 5. Initialize Storage Gateway based on configuration
	sc := cfg.Storage()
	c.storageGateway, err = storagegateway.NewGateway(ctx, c.config.Fs, storagegateway.Config{
		Backend:  sc.Type,
		LocalDir: sc.BaseDir,
		S3: storagegateway.S3Config{
			Bucket: sc.Bucket,
			Prefix: sc.Prefix,
			Region: sc.Region,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create storage gateway: %w", err)
	}

	// 6. Event journal
	if path := cfg.JournalPath(); path != "" {
		c.journal = journal.New(c.config.Fs, path)
	}

	return nil
}

// initializeDomain initializes domain layer components
func (c *Container) initializeDomain() {
	opts := []wf.Option{wf.WithLogger(c.config.Logger.Named("statemachine"))}
	if c.journal != nil {
		opts = append(opts, wf.WithEventSink(c.journal))
	}
	c.stateMachine = wf.NewStateMachine(opts...)
	c.evaluator = quality.NewEvaluator(c.config.Config.MinCoverage())
	c.validator = validation.NewValidator()
}

// initializeApplication initializes application layer components
func (c *Container) initializeApplication() error {
	cfg := c.config.Config
	logger := c.config.Logger

	c.patternService = service.NewApprovalPatternService(c.patternRepo, logger.Named("patterns"))

	// agents without an explicit slot count get the default
	slots := cfg.AgentSlots()
	if _, ok := slots[c.executor.Name()]; !ok {
		slots[c.executor.Name()] = cfg.MaxConcurrentPerAgent()
	}
	c.agentPool = service.NewAgentPool(slots)

	engine, err := workflow.NewEngine(workflow.Deps{
		Tasks:        c.taskRepo,
		Plans:        c.planRepo,
		Decisions:    c.decisionRepo,
		Results:      c.resultRepo,
		Planner:      c.planner,
		Executor:     c.executor,
		Patterns:     c.patternService,
		Storage:      c.storageGateway,
		Tx:           c.txManager,
		StateMachine: c.stateMachine,
		Evaluator:    c.evaluator,
		Validator:    c.validator,
		Logger:       logger.Named("engine"),
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow engine: %w", err)
	}
	c.engine = engine
	c.batch = workflow.NewBatchRunner(engine, cfg.BatchParallel(), c.agentPool)

	return nil
}

// App returns the wiring the CLI commands run against
func (c *Container) App() *cli.App {
	return &cli.App{
		Engine:          c.engine,
		Batch:           c.batch,
		Tasks:           c.taskRepo,
		Plans:           c.planRepo,
		Results:         c.resultRepo,
		Patterns:        c.patternService,
		Storage:         c.storageGateway,
		History:         c.History,
		WatchInterval:   c.config.Config.WatchInterval(),
		MetricsTextfile: c.config.Config.MetricsTextfile(),
		Logger:          c.config.Logger,
	}
}

// History returns the transitions of a task. With a journal configured the
// history survives restarts; otherwise only this process's transitions are known.
func (c *Container) History(taskID string) ([]wf.Event, error) {
	if c.journal == nil {
		return c.engine.TransitionHistory(taskID), nil
	}
	res, err := c.journal.Load(taskID)
	if err != nil {
		return nil, err
	}
	if res.Skipped > 0 {
		c.config.Logger.Warn("journal lines skipped",
			zap.String("path", c.journal.Path()),
			zap.Int("skipped", res.Skipped))
	}
	return res.Events, nil
}

// GetEngine returns the workflow engine
func (c *Container) GetEngine() *workflow.Engine {
	return c.engine
}

// GetStorageGateway returns the storage gateway
func (c *Container) GetStorageGateway() output.StorageGateway {
	return c.storageGateway
}

// GetAgentPool returns the agent pool
func (c *Container) GetAgentPool() *service.AgentPool {
	return c.agentPool
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	// Close database connection
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

// Bootstrap loads the configuration, builds the logger and the container.
// It is the cli.Bootstrap of the deeflow binary.
func Bootstrap(ctx context.Context, opts cli.GlobalOptions) (*cli.App, func() error, error) {
	cfg, err := appconfig.Load(appconfig.LoadOptions{ConfigFile: opts.ConfigFile})
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel(), Format: cfg.LogFormat()})
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("configuration loaded",
		zap.String("source", cfg.ConfigSource()),
		zap.String("file", cfg.ConfigFile()),
		zap.String("db", cfg.DBPath()))

	c, err := NewContainer(ctx, Options{Config: cfg, Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	closer := func() error {
		err := c.Close()
		// stderr cannot be synced on every platform
		_ = logger.Sync()
		return err
	}
	return c.App(), closer, nil
}
