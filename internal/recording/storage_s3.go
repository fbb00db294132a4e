/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recording

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Archive mirrors persisted recordings to secondary storage. The local
// filesystem under RECORDINGS_DIR stays authoritative for streaming.
type Archive interface {
	Upload(ctx context.Context, key, path string) error
}

// S3Config configures the S3 archive backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Archive uploads recordings to an S3-compatible bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3Archive builds the S3 client.
func NewS3Archive(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Archive, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "recording_archive").Logger(),
	}, nil
}

// Upload stores the file under key in the bucket.
func (a *S3Archive) Upload(ctx context.Context, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("audio/ogg"),
	})
	if err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}

	a.logger.Info().Str("key", key).Msg("recording archived to s3")
	return nil
}
