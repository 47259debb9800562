package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/studio-b12/gowebdav"
)

// Uploader stores a finished archive somewhere off the host.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// S3Options configures an S3 compatible target.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes archives to an S3 bucket.
type S3Uploader struct {
	client putObjectAPI
	bucket string
}

// NewS3Uploader builds a path-style S3 client from static credentials.
func NewS3Uploader(ctx context.Context, o S3Options) (*S3Uploader, error) {
	if o.Bucket == "" || o.AccessKey == "" || o.SecretKey == "" {
		return nil, errors.New("S3 configuration incomplete")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(o.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
		}
		opts.UsePathStyle = true
	})
	return &S3Uploader{client: client, bucket: o.Bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, name string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

// WebDAVUploader writes archives into a WebDAV collection.
type WebDAVUploader struct {
	client *gowebdav.Client
	dir    string
}

// NewWebDAVUploader connects to the server at url. Archives are written below dir.
func NewWebDAVUploader(url, user, password, dir string) (*WebDAVUploader, error) {
	if url == "" {
		return nil, errors.New("WebDAV URL not configured")
	}
	return &WebDAVUploader{
		client: gowebdav.NewClient(url, user, password),
		dir:    dir,
	}, nil
}

func (u *WebDAVUploader) Upload(_ context.Context, name string, data []byte) error {
	if err := u.client.Write(path.Join("/", u.dir, name), data, 0644); err != nil {
		return fmt.Errorf("webdav upload failed: %w", err)
	}
	return nil
}
