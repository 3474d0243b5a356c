package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// LocalStorageGateway implements StorageGateway on an afero filesystem
type LocalStorageGateway struct {
	fs      afero.Fs
	baseDir string
	now     func() time.Time
}

// NewLocalStorageGateway creates the artifacts directory under baseDir
func NewLocalStorageGateway(fsys afero.Fs, baseDir string) (*LocalStorageGateway, error) {
	if err := fsys.MkdirAll(filepath.Join(baseDir, artifactsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}
	return &LocalStorageGateway{fs: fsys, baseDir: baseDir, now: time.Now}, nil
}

// SaveArtifact writes the content first and the metadata last, so a listed
// artifact always has its content.
func (g *LocalStorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := newArtifactID()
	dir := filepath.Join(g.baseDir, artifactsDir, req.TaskID, id)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	contentPath := filepath.Join(dir, contentName)
	if err := afero.WriteFile(g.fs, contentPath, req.Content, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact content: %w", err)
	}

	meta := artifactMetadata(req, id, contentPath, g.now())
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeFileAtomic(g.fs, filepath.Join(dir, metadataName), data); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	return &meta, nil
}

// writeFileAtomic stages data in a temp file beside path and renames it into
// place, so readers never observe a partially written metadata file.
func writeFileAtomic(fsys afero.Fs, path string, data []byte) (err error) {
	tmp, err := afero.TempFile(fsys, filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return fsys.Rename(tmp.Name(), path)
}

// LoadArtifact searches every task directory for the artifact
func (g *LocalStorageGateway) LoadArtifact(ctx context.Context, artifactID string) (*output.Artifact, error) {
	if artifactID == "" || filepath.Base(artifactID) != artifactID {
		return nil, artifactNotFound(artifactID)
	}

	tasks, err := afero.ReadDir(g.fs, filepath.Join(g.baseDir, artifactsDir))
	if err != nil {
		return nil, fmt.Errorf("read artifacts directory: %w", err)
	}

	for _, entry := range tasks {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(g.baseDir, artifactsDir, entry.Name(), artifactID)
		meta, err := g.readMetadata(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		content, err := afero.ReadFile(g.fs, filepath.Join(dir, contentName))
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		return &output.Artifact{ID: artifactID, Content: content, Metadata: *meta}, nil
	}
	return nil, artifactNotFound(artifactID)
}

// ListArtifacts returns the task's artifacts oldest first. Entries with
// missing or unreadable metadata are skipped.
func (g *LocalStorageGateway) ListArtifacts(ctx context.Context, taskID string) ([]*output.ArtifactMetadata, error) {
	taskDir := filepath.Join(g.baseDir, artifactsDir, taskID)
	entries, err := afero.ReadDir(g.fs, taskDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*output.ArtifactMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task artifacts directory: %w", err)
	}

	list := make([]*output.ArtifactMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := g.readMetadata(filepath.Join(taskDir, entry.Name()))
		if err != nil {
			continue
		}
		list = append(list, meta)
	}
	sortArtifacts(list)
	return list, nil
}

// DeleteArtifact removes an artifact directory
func (g *LocalStorageGateway) DeleteArtifact(ctx context.Context, taskID, artifactID string) error {
	if err := g.fs.RemoveAll(filepath.Join(g.baseDir, artifactsDir, taskID, artifactID)); err != nil {
		return fmt.Errorf("delete artifact directory: %w", err)
	}
	return nil
}

func (g *LocalStorageGateway) readMetadata(dir string) (*output.ArtifactMetadata, error) {
	data, err := afero.ReadFile(g.fs, filepath.Join(dir, metadataName))
	if err != nil {
		return nil, err
	}
	var meta output.ArtifactMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, nil
}

// sortArtifacts orders by upload time, then ID (ULIDs sort by creation)
func sortArtifacts(list []*output.ArtifactMetadata) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].UploadedAt.Equal(list[j].UploadedAt) {
			return list[i].UploadedAt.Before(list[j].UploadedAt)
		}
		return list[i].ID < list[j].ID
	})
}
