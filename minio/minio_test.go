package minio

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a mock implementation of the minio client for testing
type MockClient struct {
	mock.Mock
}

func (m *MockClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(ctx, bucketName, objectName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*minio.Object), args.Error(1)
}

func (m *MockClient) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, dst, src)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockClient) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	var keys []string
	for obj := range objectsCh {
		keys = append(keys, obj.Key)
	}
	args := m.Called(ctx, bucketName, keys)

	errs := args.Get(0).([]minio.RemoveObjectError)
	out := make(chan minio.RemoveObjectError, len(errs))
	for _, e := range errs {
		out <- e
	}
	close(out)
	return out
}

func (m *MockClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *MockClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	objs := args.Get(0).([]minio.ObjectInfo)
	out := make(chan minio.ObjectInfo, len(objs))
	for _, o := range objs {
		out <- o
	}
	close(out)
	return out
}

func (m *MockClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	args := m.Called(ctx, bucketName, objectName, expires)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*url.URL), args.Error(1)
}

func newTestStore(client *MockClient) *ObjectStore {
	return NewObjectStore(client, "media", "http://localhost:9000/")
}

var noSuchKey = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}

func TestObjectStore_Put(t *testing.T) {
	client := new(MockClient)
	client.On("PutObject", mock.Anything, "media", "unit/1/images/a.jpg", int64(4),
		mock.MatchedBy(func(opts minio.PutObjectOptions) bool {
			return opts.ContentType == "image/jpeg" &&
				opts.UserMetadata["x-amz-acl"] == "public-read" &&
				opts.UserMetadata[visibilityKey] == "public"
		})).Return(minio.UploadInfo{}, nil)

	err := newTestStore(client).Put(context.Background(), "unit/1/images/a.jpg", []byte("data"), "image/jpeg", hearth.Public, nil)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestObjectStore_Copy(t *testing.T) {
	client := new(MockClient)
	client.On("StatObject", mock.Anything, "media", "staging/t/images/0.png").Return(minio.ObjectInfo{
		ContentType:  "image/png",
		UserMetadata: minio.StringMap{"Visibility": "private", "Display-Order": "1"},
	}, nil)
	client.On("CopyObject", mock.Anything,
		mock.MatchedBy(func(dst minio.CopyDestOptions) bool {
			return dst.Bucket == "media" &&
				dst.Object == "unit/1/images/u.png" &&
				dst.ReplaceMetadata &&
				dst.UserMetadata["Content-Type"] == "image/png" &&
				dst.UserMetadata["x-amz-acl"] == "public-read" &&
				dst.UserMetadata[visibilityKey] == "public" &&
				dst.UserMetadata["display-order"] == "1"
		}),
		minio.CopySrcOptions{Bucket: "media", Object: "staging/t/images/0.png"},
	).Return(minio.UploadInfo{}, nil)

	err := newTestStore(client).Copy(context.Background(), "staging/t/images/0.png", "unit/1/images/u.png", hearth.Public)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestObjectStore_CopyMissingSource(t *testing.T) {
	client := new(MockClient)
	client.On("StatObject", mock.Anything, "media", "gone.jpg").Return(minio.ObjectInfo{}, noSuchKey)

	err := newTestStore(client).Copy(context.Background(), "gone.jpg", "dst.jpg", hearth.Public)
	assert.True(t, hearth.IsErrorCode(err, hearth.ENOTFOUND))
}

func TestObjectStore_DeleteMany(t *testing.T) {
	tests := []struct {
		name    string
		errs    []minio.RemoveObjectError
		wantErr bool
		wantKey string
	}{
		{
			name: "all removed",
		},
		{
			name: "missing keys ignored",
			errs: []minio.RemoveObjectError{{ObjectName: "a", Err: noSuchKey}},
		},
		{
			name: "per-key failure",
			errs: []minio.RemoveObjectError{
				{ObjectName: "b", Err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}},
			},
			wantErr: true,
			wantKey: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockClient)
			client.On("RemoveObjects", mock.Anything, "media", []string{"a", "b"}).
				Return(append([]minio.RemoveObjectError(nil), tt.errs...))

			err := newTestStore(client).DeleteMany(context.Background(), []string{"a", "b"})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var se *hearth.StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantKey, se.Key)
			assert.False(t, se.Transient)
		})
	}
}

func TestObjectStore_ReplaceMetadata(t *testing.T) {
	client := new(MockClient)
	client.On("StatObject", mock.Anything, "media", "unit/1/images/a.jpg").Return(minio.ObjectInfo{
		ContentType:  "image/jpeg",
		UserMetadata: minio.StringMap{"Visibility": "public", "Display-Order": "4"},
	}, nil)
	client.On("CopyObject", mock.Anything,
		mock.MatchedBy(func(dst minio.CopyDestOptions) bool {
			return dst.Object == "unit/1/images/a.jpg" &&
				dst.ReplaceMetadata &&
				dst.UserMetadata["Content-Type"] == "image/jpeg" &&
				dst.UserMetadata["x-amz-acl"] == "public-read" &&
				dst.UserMetadata["display-order"] == "0"
		}),
		minio.CopySrcOptions{Bucket: "media", Object: "unit/1/images/a.jpg"},
	).Return(minio.UploadInfo{}, nil)

	err := newTestStore(client).ReplaceMetadata(context.Background(), "unit/1/images/a.jpg", map[string]string{"display-order": "0"})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestObjectStore_Stat(t *testing.T) {
	client := new(MockClient)
	client.On("StatObject", mock.Anything, "media", "a.jpg").Return(minio.ObjectInfo{
		Size:         10,
		ContentType:  "image/jpeg",
		UserMetadata: minio.StringMap{"Display-Order": "2"},
	}, nil)

	info, err := newTestStore(client).Stat(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "2", info.Metadata["display-order"])
}

func TestObjectStore_List(t *testing.T) {
	t.Run("recursive listing", func(t *testing.T) {
		client := new(MockClient)
		client.On("ListObjects", mock.Anything, "media", minio.ListObjectsOptions{Prefix: "unit/1/", Recursive: true}).
			Return([]minio.ObjectInfo{{Key: "unit/1/images/a.jpg"}, {Key: "unit/1/images/a_large.jpg"}})

		keys, err := newTestStore(client).List(context.Background(), "unit/1/")
		require.NoError(t, err)
		assert.Equal(t, []string{"unit/1/images/a.jpg", "unit/1/images/a_large.jpg"}, keys)
	})

	t.Run("listing error", func(t *testing.T) {
		client := new(MockClient)
		client.On("ListObjects", mock.Anything, "media", mock.Anything).
			Return([]minio.ObjectInfo{{Err: minio.ErrorResponse{Code: "InternalError", StatusCode: 500}}})

		_, err := newTestStore(client).List(context.Background(), "unit/1/")
		assert.True(t, hearth.IsTransient(err))
	})
}

func TestObjectStore_URLs(t *testing.T) {
	signed, _ := url.Parse("http://localhost:9000/media/a.jpg?X-Amz-Signature=abc")
	client := new(MockClient)
	client.On("PresignedGetObject", mock.Anything, "media", "a.jpg", time.Hour).Return(signed, nil)
	s := newTestStore(client)

	u, err := s.SignURL(context.Background(), "a.jpg", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, signed.String(), u)
	assert.Equal(t, "http://localhost:9000/media/a.jpg", s.OriginURL("a.jpg"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantTransient bool
	}{
		{"no such key", noSuchKey, hearth.ENOTFOUND, false},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, hearth.EUNAVAILABLE, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, hearth.EINTERNAL, false},
		{"deadline", context.DeadlineExceeded, hearth.EUNAVAILABLE, true},
		{"plain", errors.New("boom"), hearth.EINTERNAL, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("stat", "a.jpg", tt.err)
			assert.Equal(t, tt.wantCode, hearth.ErrorCode(err))
			assert.Equal(t, tt.wantTransient, hearth.IsTransient(err))
		})
	}
}
