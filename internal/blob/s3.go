package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/stackdrive/stackdrive/internal/logging"
	"github.com/stackdrive/stackdrive/internal/metrics"
)

// S3Config configures the S3/MinIO blob store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// S3Store stores blobs in an S3-compatible bucket, keyed by CID.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Store creates a blob store against an S3-compatible endpoint.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	store := &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}

	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(s.bucket),
		})
		if createErr != nil {
			metrics.RecordBlobOperation("create_bucket", time.Since(start), false)
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
		}
		metrics.RecordBlobOperation("create_bucket", time.Since(start), true)
		logging.Info("created bucket", zap.String("bucket", s.bucket))
	}
	return nil
}

// Put uploads content keyed by its hash. Content is buffered in memory to
// compute the CID before the upload; callers bound the reader size.
func (s *S3Store) Put(ctx context.Context, name, mimeType string, r io.Reader) (*Object, error) {
	var buf bytes.Buffer
	cid, size, err := computeCID(io.TeeReader(r, &buf))
	if err != nil {
		return nil, fmt.Errorf("hash content: %w", err)
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(cid),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(mimeType),
	})
	if err != nil {
		metrics.RecordBlobOperation("put_object", time.Since(start), false)
		return nil, fmt.Errorf("put object %s: %w", cid, err)
	}
	metrics.RecordBlobOperation("put_object", time.Since(start), true)

	logging.Debug("stored blob",
		zap.String("cid", cid),
		zap.Int64("size", size),
		zap.String("mime_type", mimeType))

	return &Object{CID: cid, Name: name, MimeType: mimeType, Size: size}, nil
}

// AccessURL mints a presigned GET URL for the object.
func (s *S3Store) AccessURL(ctx context.Context, cid, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}

	start := time.Now()
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(cid),
		ResponseContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", name)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		metrics.RecordBlobOperation("presign_get", time.Since(start), false)
		return "", fmt.Errorf("presign %s: %w", cid, err)
	}
	metrics.RecordBlobOperation("presign_get", time.Since(start), true)

	return req.URL, nil
}

// Remove deletes the object behind a content identifier.
func (s *S3Store) Remove(ctx context.Context, cid string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cid),
	})
	if err != nil {
		metrics.RecordBlobOperation("delete_object", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", cid, err)
	}
	metrics.RecordBlobOperation("delete_object", time.Since(start), true)

	logging.Debug("removed blob", zap.String("cid", cid))
	return nil
}
