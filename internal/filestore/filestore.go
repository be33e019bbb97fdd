// Package filestore hands out short-lived presigned URLs for the source
// documents citations point at. Documents live in S3; the gatekeeper
// never proxies their bytes.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrInvalidRef indicates a source reference that cannot name an object.
var ErrInvalidRef = errors.New("invalid source ref")

// Store issues presigned GET URLs for documents in a single bucket.
type Store struct {
	presigner *s3.PresignClient
	bucket    string
	urlTTL    time.Duration
	logger    *slog.Logger
}

// Options configures a document Store. Endpoint, AccessKey and
// SecretKey are only needed for S3-compatible stores like MinIO; left
// empty, the SDK's default credential chain and endpoints apply.
type Options struct {
	Bucket    string
	Region    string
	URLTTL    time.Duration
	Endpoint  string
	AccessKey string
	SecretKey string
}

// New creates a document Store for the configured bucket.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if opts.URLTTL <= 0 {
		return nil, fmt.Errorf("url ttl must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		urlTTL:    opts.URLTTL,
		logger:    logger,
	}, nil
}

// DocumentURL returns a presigned GET URL for the document at sourceRef.
// The URL expires after the configured TTL.
func (s *Store) DocumentURL(ctx context.Context, sourceRef string) (string, time.Time, error) {
	key, err := normalizeKey(sourceRef)
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presigning document URL: %w", err)
	}

	expiresAt := time.Now().Add(s.urlTTL)
	s.logger.Debug("document URL issued", "key", key, "expires_at", expiresAt)
	return req.URL, expiresAt, nil
}

// normalizeKey validates a source reference as an object key. Traversal
// sequences and absolute paths are rejected rather than cleaned.
func normalizeKey(sourceRef string) (string, error) {
	key := strings.TrimSpace(sourceRef)
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, sourceRef)
	}
	return key, nil
}
