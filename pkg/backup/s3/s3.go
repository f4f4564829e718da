// Package s3 implements a backup sink on an S3-compatible object
// store, one object per workspace name.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/quillfs/quillfs/pkg/backup"
)

const backupExt = ".json"

// Sink stores backups as objects under an optional key prefix.
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config holds the sink's construction parameters. The client is built
// by the caller so endpoint, credentials, and retry policy stay in the
// composition root.
type Config struct {
	Client    *s3.Client
	Bucket    string
	KeyPrefix string
}

// New creates the sink and verifies the bucket is reachable.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Client == nil {
		return nil, errors.New("s3 backup sink: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 backup sink: bucket is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 backup sink: bucket %q not accessible: %w", cfg.Bucket, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Sink{client: cfg.Client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Put implements backup.Sink.
func (s *Sink) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup %q: %w", name, err)
	}
	return nil
}

// Get implements backup.Sink.
func (s *Sink) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%q: %w", name, backup.ErrBackupNotFound)
		}
		return nil, fmt.Errorf("failed to download backup %q: %w", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %q: %w", name, err)
	}
	return data, nil
}

// List implements backup.Sink. Pagination is handled internally.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if !strings.HasSuffix(key, backupExt) {
				continue
			}
			names = append(names, strings.TrimSuffix(key, backupExt))
		}
	}

	sort.Strings(names)
	return names, nil
}

func (s *Sink) key(name string) string {
	return s.prefix + name + backupExt
}

var _ backup.Sink = (*Sink)(nil)
