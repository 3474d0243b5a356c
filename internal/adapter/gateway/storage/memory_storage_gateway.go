package storage

import (
	"context"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// MemoryStorageGateway keeps artifacts in process memory. Used for dry runs
// and tests; nothing survives a restart.
type MemoryStorageGateway struct {
	mu        sync.RWMutex
	artifacts map[string]output.Artifact
	order     []string
	now       func() time.Time
}

// NewMemoryStorageGateway creates an empty in-memory gateway
func NewMemoryStorageGateway() *MemoryStorageGateway {
	return &MemoryStorageGateway{
		artifacts: make(map[string]output.Artifact),
		now:       time.Now,
	}
}

func (g *MemoryStorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	id := newArtifactID()
	meta := artifactMetadata(req, id, "memory://"+artifactsDir+"/"+req.TaskID+"/"+id, g.now())

	g.mu.Lock()
	defer g.mu.Unlock()
	g.artifacts[id] = output.Artifact{
		ID:       id,
		Content:  append([]byte(nil), req.Content...),
		Metadata: meta,
	}
	g.order = append(g.order, id)
	return &meta, nil
}

func (g *MemoryStorageGateway) LoadArtifact(ctx context.Context, artifactID string) (*output.Artifact, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a, ok := g.artifacts[artifactID]
	if !ok {
		return nil, artifactNotFound(artifactID)
	}
	a.Content = append([]byte(nil), a.Content...)
	return &a, nil
}

func (g *MemoryStorageGateway) ListArtifacts(ctx context.Context, taskID string) ([]*output.ArtifactMetadata, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	list := []*output.ArtifactMetadata{}
	for _, id := range g.order {
		a := g.artifacts[id]
		if a.Metadata.TaskID == taskID {
			meta := a.Metadata
			list = append(list, &meta)
		}
	}
	return list, nil
}

// Count returns the number of stored artifacts
func (g *MemoryStorageGateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.artifacts)
}
