package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"sentinel-engine/internal/schema"
)

// S3ArchiveConfig holds configuration for archiving expired incidents to S3.
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Validate checks required fields when archiving is enabled.
func (c *S3ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Region == "" {
		return errors.New("s3 archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3 archive: bucket is required")
	}
	return nil
}

// S3Archiver uploads batches of expired incidents as gzipped JSON lines
// before the retention purge discards them.
type S3Archiver struct {
	client *s3.Client
	config S3ArchiveConfig
	logger *slog.Logger
}

// NewS3Archiver creates an archiver from the given configuration.
func NewS3Archiver(ctx context.Context, cfg S3ArchiveConfig, logger *slog.Logger) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("s3 archiver initialized", "bucket", cfg.Bucket, "region", cfg.Region)

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		logger: logger,
	}, nil
}

// ArchiveIncidents uploads the incidents as one gzipped JSON-lines object
// keyed by the purge cutoff date. A failed upload leaves the incidents in
// place; the caller skips the purge for this cycle.
func (a *S3Archiver) ArchiveIncidents(ctx context.Context, incidents []schema.SecurityIncident, cutoff time.Time) error {
	if len(incidents) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, inc := range incidents {
		if err := enc.Encode(inc); err != nil {
			gz.Close()
			return fmt.Errorf("s3 archive: encode incident %s: %w", inc.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("s3 archive: compress: %w", err)
	}

	key := fmt.Sprintf("%sincidents/%s/%d.jsonl.gz",
		a.config.Prefix, cutoff.UTC().Format("2006-01-02"), time.Now().UnixNano())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.config.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/gzip"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("s3 archive: upload %s: %w", key, err)
	}

	a.logger.Info("archived expired incidents",
		"key", key,
		"count", len(incidents),
		"bytes", buf.Len(),
	)
	return nil
}
