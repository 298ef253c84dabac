package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"estatechat/internal/pkg/logx"
)

const defaultURLDuration = 15 * time.Minute

// s3Client presigns avatar downloads against an S3-compatible endpoint.
type s3Client struct {
	cfg     ServiceConfig
	presign *s3.PresignClient
}

// compile-time check that s3Client resolves avatars.
var _ AvatarResolver = (*s3Client)(nil)

// newS3Client builds a presign client with static credentials and a custom endpoint.
// Presigning is local; no request is made to the endpoint here.
func newS3Client(cfg ServiceConfig) (*s3Client, error) {
	if cfg.S3Endpoint == "" || cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
		return nil, errors.New("incomplete S3 configuration: endpoint and credentials are required with a bucket")
	}
	if cfg.URLDuration <= 0 {
		cfg.URLDuration = defaultURLDuration
	}

	sdkCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	return &s3Client{
		cfg:     cfg,
		presign: s3.NewPresignClient(client),
	}, nil
}

// PresignDownload generates a presigned GET URL for key.
func (c *s3Client) PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error) {
	resp, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.S3BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(duration))
	if err != nil {
		return "", fmt.Errorf("presigning download for %s: %w", key, err)
	}

	return resp.URL, nil
}

// AvatarURL presigns ref. Absolute URLs are passed through, and a presign
// failure degrades to no avatar rather than failing the caller.
func (c *s3Client) AvatarURL(ctx context.Context, ref string) string {
	if ref == "" || isAbsoluteURL(ref) {
		return ref
	}

	url, err := c.PresignDownload(ctx, strings.TrimLeft(ref, "/"), c.cfg.URLDuration)
	if err != nil {
		logx.Error(err, "Failed to presign avatar", "key", ref)
		return ""
	}
	return url
}
