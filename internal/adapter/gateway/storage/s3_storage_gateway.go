package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// S3API is the subset of the S3 client used by S3StorageGateway
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Config holds S3 storage gateway configuration
type S3Config struct {
	Bucket string
	Prefix string // optional, e.g. "deeflow/prod"
	Region string // empty uses the SDK default chain
}

// S3StorageGateway implements StorageGateway on an S3 bucket.
// Object metadata mirrors metadata.json for consoles and lifecycle rules.
type S3StorageGateway struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3StorageGateway loads the default AWS configuration
func NewS3StorageGateway(ctx context.Context, cfg S3Config) (*S3StorageGateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3StorageGatewayWithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

// NewS3StorageGatewayWithClient wraps an existing client
func NewS3StorageGatewayWithClient(client S3API, bucket, prefix string) *S3StorageGateway {
	return &S3StorageGateway{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (g *S3StorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	id := newArtifactID()
	contentKey := g.key(artifactsDir, req.TaskID, id, contentName)
	meta := artifactMetadata(req, id, fmt.Sprintf("s3://%s/%s", g.bucket, contentKey), g.now())

	objectMeta := map[string]string{
		"artifact-id":   id,
		"task-id":       req.TaskID,
		"artifact-kind": string(req.Kind),
		"uploaded-at":   meta.UploadedAt.Format(time.RFC3339),
	}
	for k, v := range meta.Metadata {
		objectMeta[k] = v
	}

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(contentKey),
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String(meta.ContentType),
		Metadata:    objectMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("upload to S3: %w", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(g.key(artifactsDir, req.TaskID, id, metadataName)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload metadata to S3: %w", err)
	}
	return &meta, nil
}

// LoadArtifact finds the artifact's metadata object by scanning the
// artifacts prefix, then downloads the content next to it.
func (g *S3StorageGateway) LoadArtifact(ctx context.Context, artifactID string) (*output.Artifact, error) {
	if artifactID == "" || strings.Contains(artifactID, "/") {
		return nil, artifactNotFound(artifactID)
	}

	suffix := "/" + artifactID + "/" + metadataName
	var metadataKey string
	err := g.eachKey(ctx, g.key(artifactsDir)+"/", func(key string) bool {
		if strings.HasSuffix(key, suffix) {
			metadataKey = key
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if metadataKey == "" {
		return nil, artifactNotFound(artifactID)
	}

	meta, err := g.readMetadata(ctx, metadataKey)
	if err != nil {
		return nil, err
	}
	content, err := g.get(ctx, strings.TrimSuffix(metadataKey, metadataName)+contentName)
	if err != nil {
		return nil, fmt.Errorf("download content from S3: %w", err)
	}
	return &output.Artifact{ID: artifactID, Content: content, Metadata: *meta}, nil
}

// ListArtifacts skips artifacts whose metadata cannot be read
func (g *S3StorageGateway) ListArtifacts(ctx context.Context, taskID string) ([]*output.ArtifactMetadata, error) {
	var keys []string
	err := g.eachKey(ctx, g.key(artifactsDir, taskID)+"/", func(key string) bool {
		if strings.HasSuffix(key, "/"+metadataName) {
			keys = append(keys, key)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	list := make([]*output.ArtifactMetadata, 0, len(keys))
	for _, key := range keys {
		meta, err := g.readMetadata(ctx, key)
		if err != nil {
			continue
		}
		list = append(list, meta)
	}
	sortArtifacts(list)
	return list, nil
}

// DeleteArtifact removes both objects of an artifact
func (g *S3StorageGateway) DeleteArtifact(ctx context.Context, taskID, artifactID string) error {
	for _, name := range []string{contentName, metadataName} {
		_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(g.key(artifactsDir, taskID, artifactID, name)),
		})
		if err != nil {
			return fmt.Errorf("delete %s from S3: %w", name, err)
		}
	}
	return nil
}

// eachKey pages through ListObjectsV2 until fn returns false
func (g *S3StorageGateway) eachKey(ctx context.Context, prefix string, fn func(key string) bool) error {
	var token *string
	for {
		out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(g.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list S3 objects: %w", err)
		}
		for _, obj := range out.Contents {
			if !fn(aws.ToString(obj.Key)) {
				return nil
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func (g *S3StorageGateway) readMetadata(ctx context.Context, key string) (*output.ArtifactMetadata, error) {
	data, err := g.get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download metadata from S3: %w", err)
	}
	var meta output.ArtifactMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &meta, nil
}

func (g *S3StorageGateway) get(ctx context.Context, key string) ([]byte, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, artifactNotFound(key)
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (g *S3StorageGateway) key(parts ...string) string {
	if g.prefix != "" {
		parts = append([]string{g.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}
