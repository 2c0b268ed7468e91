package services

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"image-gallery-platform/internal/logger"
	"image-gallery-platform/utils"
)

// ObjectStorageClient is the subset of the minio client the gateway needs.
// Kept as an interface so tests can swap in a fake.
type ObjectStorageClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// UploadPolicy is the gateway-side file acceptance policy.
type UploadPolicy struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// S3MediaGateway turns uploaded files into durable objects and storage keys
// into temporary presigned access URLs. All storage calls go through a
// circuit breaker and a client-side rate limiter so a misbehaving storage
// backend degrades requests instead of piling them up.
type S3MediaGateway struct {
	client     ObjectStorageClient
	bucketName string
	presignTTL time.Duration
	policy     UploadPolicy
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

func NewS3MediaGateway(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool, presignTTL time.Duration, policy UploadPolicy) (*S3MediaGateway, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return newS3MediaGateway(minioClient, bucketName, presignTTL, policy), nil
}

func newS3MediaGateway(client ObjectStorageClient, bucketName string, presignTTL time.Duration, policy UploadPolicy) *S3MediaGateway {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ObjectStorage",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &S3MediaGateway{
		client:     client,
		bucketName: bucketName,
		presignTTL: presignTTL,
		policy:     policy,
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Upload validates the file against the policy, stores it under a fresh key
// and returns that key. The key embeds the original filename so downloads
// keep a recognizable name.
func (g *S3MediaGateway) Upload(ctx context.Context, file io.Reader, size int64, mimeType, originalName string) (string, error) {
	if err := g.validate(size, mimeType); err != nil {
		return "", err
	}

	name := sanitizeName(originalName)
	if filepath.Ext(name) == "" {
		// Browsers sometimes submit extension-less filenames; derive one
		// from the mime type so downloads stay openable.
		name += utils.GetImageExtension(mimeType)
	}
	key := fmt.Sprintf("media/%s-%s", uuid.NewString(), name)

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("upload rate limit wait: %w", err)
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.PutObject(ctx, g.bucketName, key, file, size, minio.PutObjectOptions{
			ContentType: mimeType,
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	return key, nil
}

// AccessURL produces a presigned GET URL for the key, valid for the
// configured TTL.
func (g *S3MediaGateway) AccessURL(ctx context.Context, key string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("presign rate limit wait: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.PresignedGetObject(ctx, g.bucketName, key, g.presignTTL, nil)
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}

	return result.(*url.URL).String(), nil
}

// Delete removes the object behind the key. Callers treat failures as
// best-effort cleanup.
func (g *S3MediaGateway) Delete(ctx context.Context, key string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("delete rate limit wait: %w", err)
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.client.RemoveObject(ctx, g.bucketName, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (g *S3MediaGateway) validate(size int64, mimeType string) error {
	allowed := false
	for _, t := range g.policy.AllowedTypes {
		if strings.EqualFold(t, mimeType) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	if size > g.policy.MaxFileSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, size, g.policy.MaxFileSize)
	}
	return nil
}

// sanitizeName strips path separators and spaces so the original filename can
// be embedded in an object key.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		return "file"
	}
	return name
}
