// Package signing produces time-limited access URLs for media objects
// referenced by chart entries. Signing is a collaborator, not a chart
// concern: callers treat a failed signature as a missing URL.
package signing

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrEmptyKey is returned when asked to sign an empty object key.
var ErrEmptyKey = errors.New("object key is required")

// Signer produces a time-limited URL for an object key.
type Signer interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

// S3Signer signs GET URLs against an S3-compatible store (R2 in
// production). Calls run through a circuit breaker so a struggling
// storage endpoint degrades chart reads to missing URLs instead of
// stacking up slow requests.
type S3Signer struct {
	presign *s3.PresignClient
	breaker *gobreaker.CircuitBreaker[string]
	bucket  string
	expiry  time.Duration
}

// Config holds S3Signer configuration.
type Config struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// URLExpiry is the signed URL lifetime. Default: 15 minutes.
	URLExpiry time.Duration
	// BreakerFailureThreshold trips the breaker after this many
	// consecutive signing failures. Default: 5.
	BreakerFailureThreshold uint32
	// BreakerCooldown is how long the breaker stays open. Default: 30s.
	BreakerCooldown time.Duration
}

// NewS3Signer creates a signer for an S3-compatible endpoint.
func NewS3Signer(cfg Config) (*S3Signer, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "media-url-signer",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})

	return &S3Signer{
		presign: s3.NewPresignClient(client),
		breaker: breaker,
		bucket:  cfg.BucketName,
		expiry:  cfg.URLExpiry,
	}, nil
}

// SignedURL returns a presigned GET URL for the object key. Returns an
// error when the breaker is open or the presign call fails; callers are
// expected to degrade to a missing URL.
func (s *S3Signer) SignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	return s.breaker.Execute(func() (string, error) {
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.expiry))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	})
}

// BreakerState returns the breaker state name, for monitoring.
func (s *S3Signer) BreakerState() string {
	return s.breaker.State().String()
}

// StaticSigner is a Signer for tests: it returns prefix+key, or its
// configured error.
type StaticSigner struct {
	Prefix string
	Err    error
}

// SignedURL returns the static URL or the configured error.
func (s *StaticSigner) SignedURL(ctx context.Context, key string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if key == "" {
		return "", ErrEmptyKey
	}
	return s.Prefix + key, nil
}
