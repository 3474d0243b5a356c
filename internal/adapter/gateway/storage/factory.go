package storage

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// Config selects and configures an artifact backend
type Config struct {
	Backend  string // local, s3 or memory
	LocalDir string
	S3       S3Config
}

// NewGateway builds the configured backend. An empty backend disables
// archiving and returns nil.
func NewGateway(ctx context.Context, fsys afero.Fs, cfg Config) (output.StorageGateway, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case BackendLocal:
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local artifact directory is required")
		}
		g, err := NewLocalStorageGateway(fsys, cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return g, nil
	case BackendS3:
		g, err := NewS3StorageGateway(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return g, nil
	case BackendMemory:
		return NewMemoryStorageGateway(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
