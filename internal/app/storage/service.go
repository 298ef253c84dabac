/*
Package storage turns stored avatar references into URLs a client can load.

With S3 configured, references are object keys and resolve to presigned GET
URLs. Without it they are joined onto a public asset base URL, or passed
through when they are already absolute.
*/
package storage

import (
	"context"
	"strings"
	"time"
)

// ServiceConfig holds the S3-compatible storage settings.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// URLDuration is the lifetime of presigned URLs.
	URLDuration time.Duration
}

// Enabled reports whether S3 settings were provided.
func (c ServiceConfig) Enabled() bool {
	return c.S3BucketName != ""
}

// AvatarResolver resolves avatar references for identity summaries.
// An empty reference resolves to an empty URL.
type AvatarResolver interface {
	AvatarURL(ctx context.Context, ref string) string
}

// NewAvatarResolver picks the S3 presigner when configured and the static
// resolver otherwise.
func NewAvatarResolver(cfg ServiceConfig, assetBaseURL string) (AvatarResolver, error) {
	if !cfg.Enabled() {
		return StaticResolver{BaseURL: assetBaseURL}, nil
	}
	return newS3Client(cfg)
}

// StaticResolver joins references onto a public base URL.
type StaticResolver struct {
	BaseURL string
}

func (s StaticResolver) AvatarURL(_ context.Context, ref string) string {
	if ref == "" {
		return ""
	}
	if isAbsoluteURL(ref) || s.BaseURL == "" {
		return ref
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

func isAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
