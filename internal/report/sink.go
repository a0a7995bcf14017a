// Package report writes evaluation reports and CSV exports to a local file
// or an S3 object.
package report

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Sink stores one output document.
type Sink interface {
	Put(ctx context.Context, data []byte, contentType string) error
	Location() string
}

// S3API is the subset of the S3 client the sink uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewSink returns an S3 sink for s3://bucket/key targets and a file sink for
// anything else.
func NewSink(ctx context.Context, target string, cfg domain.ReportConfig) (Sink, error) {
	bucket, key, ok := ParseS3URL(target)
	if !ok {
		if target == "" {
			return nil, fmt.Errorf("%w: empty report target", domain.ErrInvalidInput)
		}
		return &FileSink{Path: target}, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			// MinIO and LocalStack
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Sink(client, bucket, key), nil
}

// ParseS3URL splits s3://bucket/key. Both parts must be present.
func ParseS3URL(target string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(target, "s3://") {
		return "", "", false
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}

// FileSink writes to a local path, creating parent directories.
type FileSink struct {
	Path string
}

func (s *FileSink) Put(_ context.Context, data []byte, _ string) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return nil
}

func (s *FileSink) Location() string { return s.Path }

// S3Sink uploads to a single object.
type S3Sink struct {
	client S3API
	bucket string
	key    string
}

// NewS3Sink creates a sink for bucket/key.
func NewS3Sink(client S3API, bucket, key string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, key: key}
}

func (s *S3Sink) Put(ctx context.Context, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *S3Sink) Location() string { return "s3://" + s.bucket + "/" + s.key }
