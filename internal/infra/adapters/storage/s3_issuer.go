package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"paywall-access/internal/config"
	"paywall-access/internal/domain"
	"paywall-access/internal/domain/ports/adapter"
)

var _ adapter.SignedURLIssuer = (*S3Issuer)(nil)

// S3Issuer presigns GetObject requests. Works against AWS and S3-compatible stores
// when an endpoint is configured.
type S3Issuer struct {
	client *s3.S3
	bucket string
}

func NewS3Issuer(cfg config.StorageConfig) (*S3Issuer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket required")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return &S3Issuer{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

// IssueSignedURL signs locally; no request reaches the store.
func (s *S3Issuer) IssueSignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", domain.ErrInvalidArgument
	}
	if ttl < time.Second {
		return "", &domain.ValidationError{Field: "ttl", Reason: "must be at least one second"}
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)
	url, err := req.Presign(ttl)
	if err != nil {
		return "", &domain.UpstreamError{Op: "presign", Err: err}
	}
	return url, nil
}
