// Package gcs implements hearth.ObjectStore on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dukerupert/hearth"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Compile-time interface check
var _ hearth.ObjectStore = (*ObjectStore)(nil)

// deleteConcurrency bounds parallel object deletes; GCS has no
// multi-object delete call.
const deleteConcurrency = 8

const visibilityKey = "visibility"

// ObjectStore implements hearth.ObjectStore for a GCS bucket.
type ObjectStore struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// Open creates a storage client from the ambient Google credentials.
func Open(ctx context.Context, logger *slog.Logger, cfg hearth.StorageConfig) (*ObjectStore, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	logger.Info("initialized GCS storage", slog.String("bucket", cfg.GCSBucket))

	return NewObjectStore(client, cfg.GCSBucket), nil
}

// NewObjectStore returns a store over an existing client.
func NewObjectStore(client *storage.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, now: time.Now}
}

// Close releases the underlying client.
func (s *ObjectStore) Close() error {
	return s.client.Close()
}

func (s *ObjectStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

// Put uploads data at key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, vis hearth.Visibility, attrs map[string]string) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		w.Metadata[k] = v
	}
	w.Metadata[visibilityKey] = vis.String()
	w.PredefinedACL = predefinedACL(vis)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return classify("put", key, err)
	}
	if err := w.Close(); err != nil {
		return classify("put", key, err)
	}
	return nil
}

// Get returns a reader over the content of key.
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, classify("get", key, err)
	}
	return r, nil
}

// Copy rewrites src to dst server-side, carrying content type and metadata.
func (s *ObjectStore) Copy(ctx context.Context, src, dst string, vis hearth.Visibility) error {
	srcObj := s.object(src)
	attrs, err := srcObj.Attrs(ctx)
	if err != nil {
		return classify("copy", src, err)
	}

	c := s.object(dst).CopierFrom(srcObj)
	c.ContentType = attrs.ContentType
	c.Metadata = withVisibility(attrs.Metadata, vis)
	c.PredefinedACL = predefinedACL(vis)
	if _, err := c.Run(ctx); err != nil {
		return classify("copy", src, err)
	}
	return nil
}

// DeleteMany removes keys concurrently. Missing keys are skipped.
func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, k := range keys {
		g.Go(func() error {
			err := s.object(k).Delete(gctx)
			if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return classify("delete", k, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReplaceMetadata patches user metadata in place. GCS merges the given keys
// into the existing map, so no self-copy is needed.
func (s *ObjectStore) ReplaceMetadata(ctx context.Context, key string, attrs map[string]string) error {
	_, err := s.object(key).Update(ctx, storage.ObjectAttrsToUpdate{Metadata: attrs})
	if err != nil {
		return classify("replace_metadata", key, err)
	}
	return nil
}

// Stat returns the attributes of key.
func (s *ObjectStore) Stat(ctx context.Context, key string) (*hearth.ObjectInfo, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if err != nil {
		return nil, classify("stat", key, err)
	}
	return &hearth.ObjectInfo{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
	}, nil
}

// List returns every key under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// SignURL returns a V4 signed GET URL. The client's credentials must be
// able to sign (a service account key or the IAM signBlob permission).
func (s *ObjectStore) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: s.now().Add(expiry),
	})
	if err != nil {
		return "", classify("sign", key, err)
	}
	return u, nil
}

// OriginURL returns the public storage.googleapis.com URL of key.
func (s *ObjectStore) OriginURL(key string) string {
	return originURL(s.bucket, key)
}

func originURL(bucket, key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}

func predefinedACL(vis hearth.Visibility) string {
	if vis == hearth.Public {
		return "publicRead"
	}
	return "private"
}

func withVisibility(meta map[string]string, vis hearth.Visibility) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[visibilityKey] = vis.String()
	return out
}

// classify converts a storage error into a hearth error. Retryability follows
// the client library's own policy.
func classify(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return hearth.WrapError(hearth.ENOTFOUND, fmt.Sprintf("object %s not found", key), err)
	}
	transient := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		storage.ShouldRetry(err)
	return &hearth.StorageError{Op: op, Key: key, Transient: transient, Err: err}
}
