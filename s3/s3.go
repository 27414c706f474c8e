// Package s3 implements hearth.ObjectStore on AWS S3.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dukerupert/hearth"
)

// Compile-time interface check
var _ hearth.ObjectStore = (*ObjectStore)(nil)

// maxDeleteBatch is the DeleteObjects per-request key limit.
const maxDeleteBatch = 1000

// visibilityKey is the user metadata attribute recording an object's
// visibility, so a self-copy can restore its ACL.
const visibilityKey = "visibility"

// Client is the subset of the S3 API used by ObjectStore.
type Client interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Presigner signs GET requests locally.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectStore implements hearth.ObjectStore for AWS S3.
type ObjectStore struct {
	client    Client
	presigner Presigner
	bucket    string
	region    string
	endpoint  string
}

// NewObjectStore returns a store over an existing client. endpoint is only
// needed for S3-compatible services and may be empty.
func NewObjectStore(client Client, presigner Presigner, bucket, region, endpoint string) *ObjectStore {
	return &ObjectStore{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		region:    region,
		endpoint:  strings.TrimRight(endpoint, "/"),
	}
}

// Open loads the default AWS credential chain and connects to the bucket
// named in cfg.
func Open(ctx context.Context, logger *slog.Logger, cfg hearth.StorageConfig) (*ObjectStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("initialized S3 storage",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region))

	return NewObjectStore(client, awss3.NewPresignClient(client), cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint), nil
}

// Put uploads data at key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string, vis hearth.Visibility, attrs map[string]string) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         acl(vis),
		Metadata:    withVisibility(attrs, vis),
	})
	if err != nil {
		return classify("put", key, err)
	}
	return nil
}

// Get returns the body of key. The caller closes it.
func (s *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get", key, err)
	}
	return out.Body, nil
}

// Copy duplicates src at dst server-side. Metadata is carried over with the
// visibility attribute rewritten, which needs a REPLACE directive.
func (s *ObjectStore) Copy(ctx context.Context, src, dst string, vis hearth.Visibility) error {
	head, err := s.head(ctx, src)
	if err != nil {
		return classify("copy", src, err)
	}
	meta := maps.Clone(head.Metadata)
	if meta == nil {
		meta = map[string]string{}
	}
	meta[visibilityKey] = vis.String()

	_, err = s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(dst),
		CopySource:        aws.String(copySource(s.bucket, src)),
		ACL:               acl(vis),
		ContentType:       head.ContentType,
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return classify("copy", src, err)
	}
	return nil
}

// DeleteMany removes keys in batches of up to 1000. S3 reports no error for
// missing keys.
func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classify("delete", "", err)
		}
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			return &hearth.StorageError{
				Op:        "delete",
				Key:       aws.ToString(e.Key),
				Transient: transientCode(aws.ToString(e.Code)),
				Err:       fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)),
			}
		}
	}
	return nil
}

// ReplaceMetadata merges attrs into the user metadata of key by copying the
// object onto itself. Content type and ACL are preserved.
func (s *ObjectStore) ReplaceMetadata(ctx context.Context, key string, attrs map[string]string) error {
	head, err := s.head(ctx, key)
	if err != nil {
		return classify("replace_metadata", key, err)
	}
	meta := maps.Clone(head.Metadata)
	if meta == nil {
		meta = map[string]string{}
	}
	maps.Copy(meta, attrs)

	vis := hearth.Private
	if meta[visibilityKey] == hearth.Public.String() {
		vis = hearth.Public
	}

	_, err = s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(s.bucket, key)),
		ACL:               acl(vis),
		ContentType:       head.ContentType,
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return classify("replace_metadata", key, err)
	}
	return nil
}

// Stat returns the attributes of key.
func (s *ObjectStore) Stat(ctx context.Context, key string) (*hearth.ObjectInfo, error) {
	head, err := s.head(ctx, key)
	if err != nil {
		return nil, classify("stat", key, err)
	}
	return &hearth.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		Metadata:    head.Metadata,
	}, nil
}

// List returns every key under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// SignURL presigns a GET for key. Signing is local and needs no request.
func (s *ObjectStore) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", classify("sign", key, err)
	}
	return req.URL, nil
}

// OriginURL returns the virtual-hosted URL of key, or the path-style URL
// when a custom endpoint is configured.
func (s *ObjectStore) OriginURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *ObjectStore) head(ctx context.Context, key string) (*awss3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
}

func acl(vis hearth.Visibility) types.ObjectCannedACL {
	if vis == hearth.Public {
		return types.ObjectCannedACLPublicRead
	}
	return types.ObjectCannedACLPrivate
}

// copySource builds the URL-encoded "bucket/key" value CopyObject expects.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// classify converts an SDK error into a hearth error. Missing objects become
// ENOTFOUND; throttling, timeouts and 5xx responses are transient.
func classify(op, key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return hearth.WrapError(hearth.ENOTFOUND, fmt.Sprintf("object %s not found", key), err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return hearth.WrapError(hearth.ENOTFOUND, fmt.Sprintf("object %s not found", key), err)
	}
	return &hearth.StorageError{Op: op, Key: key, Transient: transient(err), Err: err}
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		if code := re.HTTPStatusCode(); code >= 500 || code == 429 {
			return true
		}
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && transientCode(apiErr.ErrorCode())
}

func transientCode(code string) bool {
	switch code {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling", "RequestLimitExceeded":
		return true
	}
	return false
}

// withVisibility returns attrs plus the visibility attribute.
func withVisibility(attrs map[string]string, vis hearth.Visibility) map[string]string {
	out := maps.Clone(attrs)
	if out == nil {
		out = make(map[string]string, 1)
	}
	out[visibilityKey] = vis.String()
	return out
}
