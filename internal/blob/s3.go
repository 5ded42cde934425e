package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/appdrive/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store drives AWS S3, or an S3-compatible endpoint, through aws-sdk-go-v2.
type S3Store struct {
	client      *s3.Client
	presign     *s3.PresignClient
	bucket      string
	presignTTL  time.Duration
	callTimeout time.Duration
	nowFunc     func() time.Time
}

// NewS3Store loads the AWS configuration and constructs an S3-backed store.
// Static credentials are used when configured; otherwise the default AWS
// credential chain applies.
func NewS3Store(ctx context.Context, cfg config.S3Config, bucket string, presignTTL, callTimeout time.Duration) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:      client,
		presign:     s3.NewPresignClient(client),
		bucket:      bucket,
		presignTTL:  presignTTL,
		callTimeout: callTimeout,
		nowFunc:     time.Now,
	}, nil
}

func (s *S3Store) PresignUpload(ctx context.Context, key, mimeType string) (UploadTarget, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	req, err := s.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return UploadTarget{}, classify(fmt.Errorf("presign put object: %w", err))
	}

	headers := make(map[string]string, len(req.SignedHeader)+1)
	for name, values := range req.SignedHeader {
		if strings.EqualFold(name, "Host") || strings.EqualFold(name, "Content-Type") || len(values) == 0 {
			continue
		}
		headers[name] = values[0]
	}
	// the client sends the content type the object is stored with
	if mimeType != "" {
		headers["Content-Type"] = mimeType
	}
	return UploadTarget{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		ExpiresAt: s.nowFunc().Add(s.presignTTL).UTC(),
	}, nil
}

func (s *S3Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(fmt.Errorf("presign get object: %w", err))
	}
	return req.URL, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, classify(fmt.Errorf("head object: %w", err))
	}
	return ObjectInfo{
		Key:         key,
		SizeBytes:   aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return classify(fmt.Errorf("delete object: %w", err))
	}
	return nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return classify(fmt.Errorf("head bucket: %w", err))
	}
	return nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
