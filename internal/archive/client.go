// Package archive uploads priced run records to S3-compatible object
// storage for audit, mirroring the teacher's reliability.R2BackupService:
// checksum, upload, list, rotate — except the unit archived here is one
// run-history store.Record (including its pricing.Response), not a whole
// database file.
package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Object is one stored archive, as reported by a Client's List.
type Object struct {
	Key  string
	Size int64
}

// Client is the object-storage surface archive needs: upload, list by
// prefix, and delete. Kept narrow so tests can fake it without a real
// bucket.
type Client interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// s3Client implements Client against a real AWS S3 (or S3-compatible)
// bucket.
type s3Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Client builds a Client from static or ambient AWS credentials. When
// accessKey is empty the SDK's default credential chain (environment,
// shared config, instance role) is used instead.
func NewS3Client(ctx context.Context, region, bucket, accessKey, secretKey string) (Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &s3Client{
		s3:       client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}, nil
}

func (c *s3Client) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}

func (c *s3Client) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			out = append(out, Object{Key: *obj.Key, Size: size})
		}
	}
	return out, nil
}

func (c *s3Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}
