package hearth

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the boundary with the remote object store. Implementations
// never offer multi-object transactions.
type ObjectStore interface {
	// Put writes data at key with the given user metadata attributes (may be
	// nil), replacing nothing: keys are never reused.
	Put(ctx context.Context, key string, data []byte, contentType string, vis Visibility, attrs map[string]string) error

	// Get returns the object content. Returns ENOTFOUND if absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Copy duplicates src at dst, carrying content type and metadata.
	Copy(ctx context.Context, src, dst string, vis Visibility) error

	// DeleteMany removes keys. Missing keys are not an error.
	DeleteMany(ctx context.Context, keys []string) error

	// ReplaceMetadata overwrites user metadata attributes without touching
	// content. Stores without an in-place update copy the object onto itself.
	ReplaceMetadata(ctx context.Context, key string, attrs map[string]string) error

	// Stat returns object attributes. Returns ENOTFOUND if absent.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns every key beginning with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// SignURL returns a time-bounded GET URL, signed locally.
	SignURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// OriginURL returns the direct public URL of key at the store origin.
	OriginURL(key string) string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// StorageConfig holds configuration for the object store.
type StorageConfig struct {
	// Provider is the storage provider ("local", "s3", "minio" or "gcs").
	Provider string

	// CDNBaseURL, when set, replaces the store origin in public URLs.
	CDNBaseURL string

	// Local storage configuration
	LocalPath   string
	LocalURL    string
	LocalSecret string

	// S3 storage configuration
	S3Bucket   string
	S3Region   string
	S3Endpoint string

	// MinIO storage configuration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// GCS storage configuration
	GCSBucket string
}
