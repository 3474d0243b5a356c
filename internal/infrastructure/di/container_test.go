package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/controller/cli"
	storagegateway "github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/storage"
	appconfig "github.com/YoshitsuguKoike/deeflow/internal/app/config"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/task"
	wf "github.com/YoshitsuguKoike/deeflow/internal/domain/workflow"
)

// loadConfig loads a configuration rooted in a fresh temp directory;
// env holds extra DEEFLOW_* overrides.
func loadConfig(t *testing.T, env map[string]string) appconfig.Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("DEEFLOW_HOME", home)
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := appconfig.Load(appconfig.LoadOptions{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	return cfg
}

func newContainer(t *testing.T, cfg appconfig.Config) *Container {
	t.Helper()
	c, err := NewContainer(context.Background(), Options{Config: cfg, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleTask(t *testing.T) *task.Task {
	t.Helper()
	tk, err := task.NewTask(model.TaskTypeFeature, "Add rate limiting", task.Context{
		RepositoryID: "acme/api",
		Branch:       "main",
		Files:        []string{"api/limit.go"},
	}, task.Constraints{MaxDuration: 60, RequiresApproval: true, MinTestCoverage: 80})
	require.NoError(t, err)
	return tk
}

func TestNewContainer_Defaults(t *testing.T) {
	c := newContainer(t, loadConfig(t, nil))

	app := c.App()
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.Batch)
	assert.NotNil(t, app.Tasks)
	assert.NotNil(t, app.Plans)
	assert.NotNil(t, app.Results)
	assert.NotNil(t, app.Patterns)
	assert.Nil(t, app.Storage, "archiving is off unless storage.type is set")
	assert.Nil(t, c.journal)
	assert.Equal(t, 1, c.GetAgentPool().Usage("simulated").Max)
}

func TestNewContainer_RequiresConfig(t *testing.T) {
	_, err := NewContainer(context.Background(), Options{})
	assert.ErrorContains(t, err, "requires a configuration")
}

func TestNewContainer_UnknownExecutor(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DEEFLOW_AGENT_EXECUTOR": "telepathy"})
	_, err := NewContainer(context.Background(), Options{Config: cfg})
	assert.ErrorContains(t, err, "failed to create execution agent")
}

func TestNewContainer_AgentSlots(t *testing.T) {
	c := newContainer(t, loadConfig(t, map[string]string{"DEEFLOW_AGENT_MAX_CONCURRENT": "3"}))
	assert.Equal(t, 3, c.GetAgentPool().Usage("simulated").Max)
}

func TestNewContainer_LocalStorage(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DEEFLOW_STORAGE_TYPE": "local"})
	c := newContainer(t, cfg)
	assert.IsType(t, &storagegateway.LocalStorageGateway{}, c.GetStorageGateway())
}

func TestContainer_StatePersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := loadConfig(t, nil)

	first, err := NewContainer(ctx, Options{Config: cfg})
	require.NoError(t, err)
	tk := sampleTask(t)
	out, err := first.GetEngine().CreateTaskWorkflow(ctx, tk)
	require.NoError(t, err)
	require.True(t, out.Success)
	processed, err := first.GetEngine().ProcessTask(ctx, tk.ID, "")
	require.NoError(t, err)
	require.True(t, processed.Success)
	require.NoError(t, first.Close())

	second := newContainer(t, cfg)
	state, err := second.GetEngine().WorkflowState(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.StateAwaitingHumanDecision, state)

	plans, err := second.App().Plans.ListByTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, plans, cfg.PlanCount())
}

func TestContainer_JournalBackedHistory(t *testing.T) {
	ctx := context.Background()
	journalPath := filepath.Join(t.TempDir(), "events.ndjson")
	cfg := loadConfig(t, map[string]string{"DEEFLOW_JOURNAL_PATH": journalPath})

	first, err := NewContainer(ctx, Options{Config: cfg})
	require.NoError(t, err)
	tk := sampleTask(t)
	_, err = first.GetEngine().CreateTaskWorkflow(ctx, tk)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// a new process has no in-memory history, the journal still does
	second := newContainer(t, cfg)
	assert.Empty(t, second.GetEngine().TransitionHistory(tk.ID))

	events, err := second.History(tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, wf.ActionCreate, events[0].Action)
	assert.Equal(t, wf.ActionStartPlanning, events[1].Action)
}

func TestBootstrap(t *testing.T) {
	t.Setenv("DEEFLOW_HOME", t.TempDir())
	t.Setenv("DEEFLOW_LOG_FORMAT", "json")

	app, closer, err := Bootstrap(context.Background(), cli.GlobalOptions{})
	require.NoError(t, err)
	require.NotNil(t, app.Engine)
	require.NotNil(t, app.Logger)
	assert.NoError(t, closer())
}

func TestBootstrap_MissingConfigFile(t *testing.T) {
	t.Setenv("DEEFLOW_HOME", t.TempDir())

	_, _, err := Bootstrap(context.Background(), cli.GlobalOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "read config")
}
