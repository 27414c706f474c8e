// Package minio implements hearth.ObjectStore on any S3-compatible server
// reachable with minio-go, typically a self-hosted MinIO install.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Compile-time interface check
var _ hearth.ObjectStore = (*ObjectStore)(nil)

const visibilityKey = "visibility"

// Client is the subset of *minio.Client used by ObjectStore.
type Client interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// ObjectStore implements hearth.ObjectStore over minio-go.
type ObjectStore struct {
	client  Client
	bucket  string
	baseURL string
}

// NewObjectStore returns a store over an existing client. baseURL is the
// origin public URLs are built from, e.g. "https://minio.example.com".
func NewObjectStore(client Client, bucket, baseURL string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// Open connects to the configured endpoint and creates the bucket if it
// does not exist yet.
func Open(ctx context.Context, logger *slog.Logger, cfg hearth.StorageConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("created bucket", slog.String("bucket", cfg.MinioBucket))
	}

	logger.Info("initialized MinIO storage",
		slog.String("endpoint", cfg.MinioEndpoint),
		slog.String("bucket", cfg.MinioBucket))

	return NewObjectStore(client, cfg.MinioBucket, client.EndpointURL().String()), nil
}

// Put uploads data at key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, vis hearth.Visibility, attrs map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata(attrs, vis),
	})
	if err != nil {
		return classify("put", key, err)
	}
	return nil
}

// Get returns the content of key. The object is stat'ed up front so a
// missing key fails here rather than on the first read.
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, classify("get", key, err)
	}
	return obj, nil
}

// Copy duplicates src at dst server-side with the given visibility.
func (s *ObjectStore) Copy(ctx context.Context, src, dst string, vis hearth.Visibility) error {
	info, err := s.client.StatObject(ctx, s.bucket, src, minio.StatObjectOptions{})
	if err != nil {
		return classify("copy", src, err)
	}
	return s.copy(ctx, "copy", src, dst, info, userMetadata(info), vis)
}

// DeleteMany removes keys with multi-object delete requests.
func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, k := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: k}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var first error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if minio.ToErrorResponse(rerr.Err).Code == "NoSuchKey" {
			continue
		}
		if first == nil {
			first = classify("delete", rerr.ObjectName, rerr.Err)
		}
	}
	if first == nil {
		if err := ctx.Err(); err != nil {
			return classify("delete", "", err)
		}
	}
	return first
}

// ReplaceMetadata merges attrs into the user metadata of key by copying the
// object onto itself.
func (s *ObjectStore) ReplaceMetadata(ctx context.Context, key string, attrs map[string]string) error {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return classify("replace_metadata", key, err)
	}
	meta := userMetadata(info)
	maps.Copy(meta, attrs)

	vis := hearth.Private
	if meta[visibilityKey] == hearth.Public.String() {
		vis = hearth.Public
	}
	return s.copy(ctx, "replace_metadata", key, key, info, meta, vis)
}

func (s *ObjectStore) copy(ctx context.Context, op, src, dst string, info minio.ObjectInfo, meta map[string]string, vis hearth.Visibility) error {
	um := metadata(meta, vis)
	um["Content-Type"] = info.ContentType

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          s.bucket,
			Object:          dst,
			UserMetadata:    um,
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return classify(op, src, err)
	}
	return nil
}

// Stat returns the attributes of key.
func (s *ObjectStore) Stat(ctx context.Context, key string) (*hearth.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classify("stat", key, err)
	}
	return &hearth.ObjectInfo{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    userMetadata(info),
	}, nil
}

// List returns every key under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classify("list", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// SignURL presigns a GET for key.
func (s *ObjectStore) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", classify("sign", key, err)
	}
	return u.String(), nil
}

// OriginURL returns the path-style URL of key.
func (s *ObjectStore) OriginURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucket, key)
}

// metadata returns a copy of meta carrying the visibility attribute and the
// matching canned ACL header.
func metadata(meta map[string]string, vis hearth.Visibility) map[string]string {
	out := maps.Clone(meta)
	if out == nil {
		out = map[string]string{}
	}
	out[visibilityKey] = vis.String()
	if vis == hearth.Public {
		out["x-amz-acl"] = "public-read"
	} else {
		out["x-amz-acl"] = "private"
	}
	return out
}

// userMetadata returns the user metadata of info with lowercased keys.
// minio-go reports them in canonical header case ("Display-Order").
func userMetadata(info minio.ObjectInfo) map[string]string {
	out := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		out[strings.ToLower(k)] = v
	}
	return out
}

// classify converts a minio-go error into a hearth error.
func classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return hearth.WrapError(hearth.ENOTFOUND, fmt.Sprintf("object %s not found", key), err)
	}
	return &hearth.StorageError{Op: op, Key: key, Transient: transient(err, resp), Err: err}
}

func transient(err error, resp minio.ErrorResponse) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	switch resp.Code {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "XMinioServerNotInitialized":
		return true
	}
	return false
}
