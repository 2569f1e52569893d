// Package s3blob archives audit history to S3 or an S3-compatible store
// (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection settings for the object store.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers. Empty
	// means AWS S3.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
	// Prefix is prepended to every object key, e.g. "prod/".
	Prefix string
}

// Client wraps the SDK client with the bucket and key prefix.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a Client with static credentials.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{s3: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Health issues HeadBucket to check connectivity and permissions.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) objectKey(path string) string {
	return joinPrefix(c.prefix, path)
}

func joinPrefix(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(path, "/")
}

// normaliseEndpoint adds a scheme to a bare host.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
