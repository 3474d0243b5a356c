package output

import (
	"context"
	"time"
)

// StorageGateway archives execution artifacts outside the database.
// Implementations exist for the local filesystem, S3 and an in-memory mock.
type StorageGateway interface {
	// SaveArtifact persists an artifact to storage
	SaveArtifact(ctx context.Context, req SaveArtifactRequest) (*ArtifactMetadata, error)

	// LoadArtifact retrieves an artifact by the ID returned from SaveArtifact
	LoadArtifact(ctx context.Context, artifactID string) (*Artifact, error)

	// ListArtifacts lists artifacts archived for a task
	ListArtifacts(ctx context.Context, taskID string) ([]*ArtifactMetadata, error)
}

// ArtifactKind classifies what was archived
type ArtifactKind string

const (
	ArtifactKindLog    ArtifactKind = "log"    // Execution logs
	ArtifactKindResult ArtifactKind = "result" // Full result documents
	ArtifactKindPlan   ArtifactKind = "plan"   // Exported plans
)

// SaveArtifactRequest represents a request to save an artifact
type SaveArtifactRequest struct {
	TaskID      string
	ResultID    string // optional
	Kind        ArtifactKind
	Content     []byte
	ContentType string // defaults to text/plain
	Metadata    map[string]string
}

// Artifact is a stored artifact with its content
type Artifact struct {
	ID       string
	Content  []byte
	Metadata ArtifactMetadata
}

// ArtifactMetadata describes a stored artifact
type ArtifactMetadata struct {
	ID          string
	TaskID      string
	ResultID    string
	Kind        ArtifactKind
	StoragePath string // e.g. s3://bucket/key or an absolute file path
	ContentType string
	Size        int64
	UploadedAt  time.Time
	Metadata    map[string]string
}
