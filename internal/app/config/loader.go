package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. DEEFLOW_DB_PATH
	EnvPrefix = "DEEFLOW"
	// EnvConfigFile names the YAML file when --config is not given
	EnvConfigFile = "DEEFLOW_CONFIG"

	defaultFileName = "deeflow.yaml"
)

// Source values reported by ConfigSource
const (
	SourceDefault = "default"
	SourceEnv     = "env"
	SourceFile    = "file"
)

// settings mirrors the YAML layout
type settings struct {
	Home string `mapstructure:"home"`
	DB   struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`
	Agent struct {
		Planner       string         `mapstructure:"planner"`
		Executor      string         `mapstructure:"executor"`
		PlanCount     int            `mapstructure:"plan_count"`
		StepTimeout   time.Duration  `mapstructure:"step_timeout"`
		WorkDir       string         `mapstructure:"work_dir"`
		MaxConcurrent int            `mapstructure:"max_concurrent"`
		Slots         map[string]int `mapstructure:"slots"`
	} `mapstructure:"agent"`
	Quality struct {
		MinCoverage float64 `mapstructure:"min_coverage"`
	} `mapstructure:"quality"`
	Batch struct {
		MaxParallel   int           `mapstructure:"max_parallel"`
		WatchInterval time.Duration `mapstructure:"watch_interval"`
	} `mapstructure:"batch"`
	Journal struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"journal"`
	Storage struct {
		Type    string `mapstructure:"type"`
		BaseDir string `mapstructure:"base_dir"`
		S3      struct {
			Bucket string `mapstructure:"bucket"`
			Prefix string `mapstructure:"prefix"`
			Region string `mapstructure:"region"`
		} `mapstructure:"s3"`
	} `mapstructure:"storage"`
	Metrics struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// LoadOptions control where Load looks
type LoadOptions struct {
	// ConfigFile is an explicit YAML path; it must exist when set
	ConfigFile string
	// Fs defaults to the OS filesystem
	Fs afero.Fs
}

// Load merges defaults, the YAML file and DEEFLOW_* variables, in that
// order of increasing precedence.
func Load(opts LoadOptions) (*AppConfig, error) {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	source := SourceDefault
	file, explicit := opts.ConfigFile, opts.ConfigFile != ""
	if !explicit {
		file = os.Getenv(EnvConfigFile)
		explicit = file != ""
	}
	if !explicit {
		file = findDefaultFile(fsys)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || os.IsNotExist(err)) {
				return nil, fmt.Errorf("read config %s: %w", file, err)
			}
			file = ""
		} else {
			source = SourceFile
		}
	}
	if source == SourceDefault && envOverridden() {
		source = SourceEnv
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg, err := fromSettings(s)
	if err != nil {
		return nil, err
	}
	cfg.configSource = source
	cfg.configFile = file
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", "~/.deeflow")
	v.SetDefault("db.path", "")
	v.SetDefault("agent.planner", "heuristic")
	v.SetDefault("agent.executor", "simulated")
	v.SetDefault("agent.plan_count", 3)
	v.SetDefault("agent.step_timeout", 2*time.Minute)
	v.SetDefault("agent.work_dir", "")
	v.SetDefault("agent.max_concurrent", 1)
	v.SetDefault("agent.slots", map[string]int{})
	v.SetDefault("quality.min_coverage", 80.0)
	v.SetDefault("batch.max_parallel", 3)
	v.SetDefault("batch.watch_interval", 30*time.Second)
	v.SetDefault("journal.path", "")
	v.SetDefault("storage.type", "")
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "deeflow")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
}

// findDefaultFile looks in the working directory, then the default home
func findDefaultFile(fsys afero.Fs) string {
	candidates := []string{defaultFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".deeflow", defaultFileName))
	}
	for _, c := range candidates {
		if ok, _ := afero.Exists(fsys, c); ok {
			return c
		}
	}
	return ""
}

func envOverridden() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix+"_") && !strings.HasPrefix(kv, EnvConfigFile+"=") {
			return true
		}
	}
	return false
}

func fromSettings(s settings) (*AppConfig, error) {
	home, err := expandHome(s.Home)
	if err != nil {
		return nil, err
	}
	dbPath := s.DB.Path
	if dbPath == "" {
		dbPath = filepath.Join(home, "deeflow.db")
	}
	if dbPath, err = expandHome(dbPath); err != nil {
		return nil, err
	}
	journalPath, err := expandHome(s.Journal.Path)
	if err != nil {
		return nil, err
	}
	baseDir := s.Storage.BaseDir
	if baseDir == "" && s.Storage.Type == "local" {
		baseDir = home
	}
	if baseDir, err = expandHome(baseDir); err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		home:          home,
		dbPath:        dbPath,
		planner:       strings.ToLower(strings.TrimSpace(s.Agent.Planner)),
		executor:      strings.ToLower(strings.TrimSpace(s.Agent.Executor)),
		planCount:     s.Agent.PlanCount,
		stepTimeout:   s.Agent.StepTimeout,
		workDir:       s.Agent.WorkDir,
		agentSlots:    s.Agent.Slots,
		maxPerAgent:   s.Agent.MaxConcurrent,
		minCoverage:   s.Quality.MinCoverage,
		batchParallel: s.Batch.MaxParallel,
		watchInterval: s.Batch.WatchInterval,
		journalPath:   journalPath,
		storage: StorageConfig{
			Type:    strings.ToLower(strings.TrimSpace(s.Storage.Type)),
			BaseDir: baseDir,
			Bucket:  s.Storage.S3.Bucket,
			Prefix:  s.Storage.S3.Prefix,
			Region:  s.Storage.S3.Region,
		},
		metricsTextfile: s.Metrics.Textfile,
		logLevel:        strings.ToLower(strings.TrimSpace(s.Log.Level)),
		logFormat:       strings.ToLower(strings.TrimSpace(s.Log.Format)),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	var errs []error
	if c.planCount < 1 {
		errs = append(errs, fmt.Errorf("agent.plan_count must be at least 1, got %d", c.planCount))
	}
	if c.stepTimeout <= 0 {
		errs = append(errs, fmt.Errorf("agent.step_timeout must be positive, got %s", c.stepTimeout))
	}
	if c.maxPerAgent < 1 {
		errs = append(errs, fmt.Errorf("agent.max_concurrent must be at least 1, got %d", c.maxPerAgent))
	}
	for agent, n := range c.agentSlots {
		if n < 1 {
			errs = append(errs, fmt.Errorf("agent.slots.%s must be at least 1, got %d", agent, n))
		}
	}
	if c.minCoverage < 0 || c.minCoverage > 100 {
		errs = append(errs, fmt.Errorf("quality.min_coverage must be within 0..100, got %g", c.minCoverage))
	}
	if c.batchParallel < 1 {
		errs = append(errs, fmt.Errorf("batch.max_parallel must be at least 1, got %d", c.batchParallel))
	}
	if c.watchInterval <= 0 {
		errs = append(errs, fmt.Errorf("batch.watch_interval must be positive, got %s", c.watchInterval))
	}
	switch c.storage.Type {
	case "", "memory", "local":
	case "s3":
		if c.storage.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be memory, local or s3, got %q", c.storage.Type))
	}
	if c.logFormat != "console" && c.logFormat != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.logFormat))
	}
	return errors.Join(errs...)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
