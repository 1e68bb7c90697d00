package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3 export destination.
type S3Options struct {
	Bucket string

	// Prefix is prepended to every object key. Keys are dated, so repeated
	// exports land as separate objects under the prefix.
	Prefix string

	Region string

	// Endpoint overrides the AWS endpoint and switches to path-style
	// addressing, for MinIO and other S3-compatible stores.
	Endpoint string
}

// S3Destination uploads export snapshots to a bucket, one object per export.
type S3Destination struct {
	client *s3.Client
	opts   S3Options

	now func() time.Time
}

func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{client: client, opts: opts, now: time.Now}, nil
}

// objectKey names one snapshot by its export time.
func (d *S3Destination) objectKey() string {
	return fmt.Sprintf("%s/%s.jsonl", d.opts.Prefix, d.now().UTC().Format("2006-01-02T15-04-05Z"))
}

// Write uploads one export snapshot.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	key := d.objectKey()
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", d.opts.Bucket, key, err)
	}
	return nil
}
