// Package s3 publishes finished job outputs to S3 or an S3-compatible store.
package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket receives every upload
	Bucket string

	// Prefix is prepended to every object key
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	UploadTimeout time.Duration

	// Concurrency bounds parallel uploads
	Concurrency int
}

// DefaultConfig returns defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:        bucket,
		Region:        region,
		UploadTimeout: 5 * time.Minute,
		Concurrency:   4,
	}
}

// API is the subset of the S3 client used for publishing.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client uploads files to one bucket.
type Client struct {
	cfg Config
	api API
}

// NewClient creates a client from the default AWS credential chain, or the
// static credentials in cfg when they are set.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithAPI(cfg, client), nil
}

// NewWithAPI creates a client over an existing S3 API implementation.
func NewWithAPI(cfg Config, api API) *Client {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Client{cfg: cfg, api: api}
}

// Bucket returns the target bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Key returns the object key for a local file of the given job:
// <prefix>/<jobID>/<basename>.
func (c *Client) Key(jobID, file string) string {
	return path.Join(strings.Trim(c.cfg.Prefix, "/"), jobID, filepath.Base(file))
}

// Upload puts one local file under key.
func (c *Client) Upload(ctx context.Context, key, file string, metadata map[string]string) error {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound(file)
		}
		return err
	}
	defer f.Close()

	if c.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.UploadTimeout)
		defer cancel()
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(c.cfg.Bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: metadata,
	})
	if err != nil {
		return errors.Wrapf(err, errors.CodePublishFailed, "failed to upload %s", file).
			WithContext("bucket", c.cfg.Bucket).
			WithContext("key", key)
	}
	return nil
}

// Publish uploads every file of a job concurrently and returns the s3://
// URIs in the order of files. The first failure cancels the remaining
// uploads.
func (c *Client) Publish(ctx context.Context, jobID string, files []string) ([]string, error) {
	uris := make([]string, len(files))
	meta := map[string]string{"job-id": jobID}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			key := c.Key(jobID, file)
			if err := c.Upload(ctx, key, file, meta); err != nil {
				return err
			}
			uris[i] = fmt.Sprintf("s3://%s/%s", c.cfg.Bucket, key)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uris, nil
}
