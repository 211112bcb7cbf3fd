package storage

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	appconfig "github.com/baechuer/real-time-ressys/services/dataset-service/internal/config"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// ObjectAPI is the subset of *s3.Client the sink uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Sink writes partitions as snappy-compressed JSON lines to an
// S3-compatible store (MinIO, R2, AWS).
type S3Sink struct {
	api      ObjectAPI
	bucket   string
	prefix   string
	partRows int
	log      zerolog.Logger
}

// NewS3Client builds an S3 client from config. A custom endpoint switches the
// client to that host, for MinIO or R2.
func NewS3Client(cfg *appconfig.Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}

	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3Endpoint,
				HostnameImmutable: true,
			}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	}), nil
}

func NewS3Sink(api ObjectAPI, bucket, prefix string, log zerolog.Logger) *S3Sink {
	return &S3Sink{
		api:      api,
		bucket:   bucket,
		prefix:   prefix,
		partRows: PartRows,
		log:      log.With().Str("sink", "s3").Str("bucket", bucket).Logger(),
	}
}

func (s *S3Sink) Name() string { return "s3" }

// EnsureBucket creates the bucket if it does not exist yet.
func (s *S3Sink) EnsureBucket(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	s.log.Info().Msg("creating bucket")
	if _, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// WritePartitions uploads every part of every partition, then a _SUCCESS
// marker per partition. Readers must ignore run directories without one.
func (s *S3Sink) WritePartitions(ctx context.Context, runID string, parts []domain.Partition) error {
	for _, p := range parts {
		dir := partitionDir(s.prefix, p.DT, runID)

		for i, rows := range chunks(p.Rows, s.partRows) {
			var buf bytes.Buffer
			if err := EncodeRows(&buf, rows); err != nil {
				return fmt.Errorf("dt=%s: %w", p.DT, err)
			}
			key := dir + "/" + partName(i)
			if err := s.put(ctx, key, buf.Bytes(), map[string]string{
				"rows":        strconv.Itoa(len(rows)),
				"compression": "snappy-framed",
			}); err != nil {
				return err
			}
		}

		if err := s.put(ctx, dir+"/"+successMarker, nil, map[string]string{
			"rows": strconv.Itoa(len(p.Rows)),
		}); err != nil {
			return err
		}
		s.log.Debug().Str("dt", p.DT).Int("rows", len(p.Rows)).Msg("partition uploaded")
	}
	return nil
}

func (s *S3Sink) put(ctx context.Context, key string, body []byte, meta map[string]string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      meta,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}
