// Package storage archives execution artifacts on the local filesystem or S3.
//
// Both backends share one layout:
//
//	artifacts/<taskID>/<artifactID>/content
//	artifacts/<taskID>/<artifactID>/metadata.json
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

const (
	artifactsDir     = "artifacts"
	contentName      = "content"
	metadataName     = "metadata.json"
	defaultMediaType = "text/plain"

	// MetaChecksum is the metadata key holding the content's sha256
	MetaChecksum = "sha256"
)

// Backend names accepted by NewGateway
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// artifactMetadata fills the fields common to every backend
func artifactMetadata(req output.SaveArtifactRequest, id, storagePath string, now time.Time) output.ArtifactMetadata {
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultMediaType
	}

	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	sum := sha256.Sum256(req.Content)
	meta[MetaChecksum] = hex.EncodeToString(sum[:])

	return output.ArtifactMetadata{
		ID:          id,
		TaskID:      req.TaskID,
		ResultID:    req.ResultID,
		Kind:        req.Kind,
		StoragePath: storagePath,
		ContentType: contentType,
		Size:        int64(len(req.Content)),
		UploadedAt:  now.UTC(),
		Metadata:    meta,
	}
}

func validateRequest(req output.SaveArtifactRequest) error {
	if req.TaskID == "" {
		return fmt.Errorf("artifact task id is required")
	}
	if path.Base(req.TaskID) != req.TaskID || req.TaskID == "." || req.TaskID == ".." {
		return fmt.Errorf("artifact task id %q is not a valid path segment", req.TaskID)
	}
	switch req.Kind {
	case output.ArtifactKindLog, output.ArtifactKindResult, output.ArtifactKindPlan:
	default:
		return fmt.Errorf("unknown artifact kind %q", req.Kind)
	}
	return nil
}

func newArtifactID() string {
	return model.NewID(model.PrefixArtifact)
}

func artifactNotFound(id string) error {
	return fmt.Errorf("artifact %s: %w", id, repository.ErrNotFound)
}
