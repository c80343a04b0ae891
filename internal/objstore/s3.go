// ABOUTME: S3 implementation of the media object store using aws-sdk-go-v2.
// ABOUTME: Path-style addressing is enabled when a custom endpoint (MinIO) is set.
package objstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store uploads media objects to a single S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3 creates an S3Store for bucket in region. endpoint overrides the AWS
// endpoint for S3-compatible stores; empty means real AWS.
func NewS3(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: bucket}, nil
}

// Upload stores data under key with the given content type. PutObject
// overwrites existing keys, so retried ingestion jobs are safe.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
