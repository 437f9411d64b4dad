package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"auction-batch/internal/config"
)

// S3Store reads and writes artifacts in a single bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	creds  aws.CredentialsProvider
}

// NewS3Store wraps an existing client. creds is probed before each request so a
// missing credential is reported as such instead of as a transport failure.
func NewS3Store(client *s3.Client, bucket string, creds aws.CredentialsProvider) *S3Store {
	return &S3Store{client: client, bucket: bucket, creds: creds}
}

// NewS3StoreFromConfig loads the default AWS credential chain and builds the store.
func NewS3StoreFromConfig(ctx context.Context, cfg config.Config) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("S3_BUCKET is not configured")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return NewS3Store(client, cfg.S3Bucket, awsCfg.Credentials), nil
}

func (s *S3Store) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3Store) Stat(ctx context.Context, key string) (Info, error) {
	info := Info{Location: s.Location(key), Size: -1}
	if err := s.checkCredentials(ctx); err != nil {
		return info, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return info, classifyS3Error(err)
	}
	info.Size = aws.ToInt64(out.ContentLength)
	return info, nil
}

func (s *S3Store) ReadPrefix(ctx context.Context, key string, n int64) ([]byte, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", n-1)),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(io.LimitReader(out.Body, n))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	return b, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", classifyS3Error(err))
	}
	return s.Location(key), nil
}

func (s *S3Store) checkCredentials(ctx context.Context) error {
	if s.creds == nil {
		return ErrNoCredentials
	}
	if _, err := s.creds.Retrieve(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	return nil
}

func classifyS3Error(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
