package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Destination is a snapshot target.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write stores the JSONL payload, replacing any previous snapshot.
	Write(ctx context.Context, data []byte) error
	// Read returns the stored snapshot.
	Read(ctx context.Context) (io.ReadCloser, error)
}

// FileDestination writes snapshots to a local path. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileDestination struct {
	path string
}

// NewFileDestination creates a FileDestination for path.
func NewFileDestination(path string) *FileDestination {
	return &FileDestination{path: path}
}

func (d *FileDestination) Name() string { return "file:" + d.path }

// Write implements Destination.
func (d *FileDestination) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Read implements Destination.
func (d *FileDestination) Read(context.Context) (io.ReadCloser, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return f, nil
}

// S3Destination writes JSONL data to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return NewS3DestinationFromClient(s3.NewFromConfig(cfg, s3opts...), bucket, key), nil
}

// NewS3DestinationFromClient wraps an existing S3 client.
func NewS3DestinationFromClient(client *s3.Client, bucket, key string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket, key: key}
}

func (d *S3Destination) Name() string { return "s3://" + d.bucket + "/" + d.key }

// Write uploads data to S3 as the configured object key.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Read downloads the configured object.
func (d *S3Destination) Read(ctx context.Context) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return out.Body, nil
}

// ParseLocation turns "s3://bucket/key" into an S3Destination and anything
// else into a FileDestination.
func ParseLocation(ctx context.Context, location, region, endpoint string) (Destination, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return NewFileDestination(location), nil
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid S3 location %q, want s3://bucket/key", location)
	}
	return NewS3Destination(ctx, bucket, key, region, endpoint)
}
