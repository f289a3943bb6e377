package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3Store.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// PutObjectAPI is the subset of the S3 client used by S3Store.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes attachments as objects in an S3-compatible bucket.
type S3Store struct {
	bucket string
	prefix string
	client PutObjectAPI
	now    func() time.Time
}

// NewS3Store creates an S3Store using the default AWS credential chain, or static
// credentials when both keys are set.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("attachment bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3StoreWithClient(cfg.Bucket, cfg.Prefix, client), nil
}

// NewS3StoreWithClient creates an S3Store around an existing client.
func NewS3StoreWithClient(bucket, prefix string, client PutObjectAPI) *S3Store {
	return &S3Store{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		now:    time.Now,
	}
}

// Persist uploads content as a new object.
func (s *S3Store) Persist(ctx context.Context, filename, contentType string, content []byte) (*Handle, error) {
	name := uniqueName(s.now(), filename)
	key := name
	if s.prefix != "" {
		key = path.Join(s.prefix, name)
	}
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, key)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, &StorageError{Filename: filename, Path: uri, Err: err}
	}

	slog.Debug("attachment stored",
		"filename", filename,
		"path", uri,
		"size", len(content),
	)

	return &Handle{
		Name:        name,
		Path:        uri,
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	}, nil
}
