// Package s3src reads pipeline input from an S3-compatible object store
// (AWS S3 or MinIO).
package s3src

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config selects the object and how to reach it. Credentials come from the
// default AWS chain (AWS_ACCESS_KEY_ID, shared config, instance role).
type Config struct {
	Bucket    string
	Key       string
	Region    string // default us-east-1
	Endpoint  string // optional, e.g. a MinIO URL
	PathStyle bool
}

// GetObjectAPI is the slice of *s3.Client the source needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source streams one object on every Open. It satisfies datasource.Source.
type Source struct {
	client GetObjectAPI
	bucket string
	key    string
}

// New builds a Source from cfg using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("s3src: bucket and key required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3src: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client GetObjectAPI, bucket, key string) *Source {
	return &Source{client: client, bucket: bucket, key: key}
}

// URI returns the object location as s3://bucket/key.
func (s *Source) URI() string { return "s3://" + s.bucket + "/" + s.key }

// Open fetches the object and returns its body.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3src: get %s: %w", s.URI(), err)
	}
	return out.Body, nil
}
