package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dukerupert/hearth"
	"github.com/dukerupert/hearth/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unitOwner = hearth.Owner{Kind: hearth.OwnerUnit, ID: "42"}

func TestUpload_UnitBatch(t *testing.T) {
	store := mock.NewObjectStore()
	p := newTestPipeline(store, nil)

	keys, err := p.Upload(context.Background(), unitOwner, hearth.StagePermanent, []hearth.Upload{
		jpegUpload(t, "front.jpg"),
		jpegUpload(t, "back.JPG"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"unit/42/images/id-1.jpg", "unit/42/images/id-2.jpg"}, keys)

	// 2 originals + 2*4 renditions.
	assert.Len(t, store.Calls("Put"), 10)
	for _, k := range keys {
		obj, ok := store.Object(k)
		require.True(t, ok)
		assert.Equal(t, "image/jpeg", obj.ContentType)
		assert.Equal(t, hearth.Public, obj.Visibility)
		for _, rk := range RenditionKeys(k, p.policies[hearth.OwnerUnit].Renditions) {
			assert.True(t, store.Has(rk), rk)
		}
	}
}

func TestUpload_ValidationWritesNothing(t *testing.T) {
	tests := []struct {
		name    string
		uploads []hearth.Upload
		kind    hearth.ValidationKind
	}{
		{"empty batch", nil, hearth.CountOutOfRange},
		{"too many", make([]hearth.Upload, 21), hearth.CountOutOfRange},
		{"gif", []hearth.Upload{{Filename: "x.gif", Data: []byte{1}}}, hearth.UnsupportedFormat},
		{"too large", []hearth.Upload{{Filename: "x.jpg", Data: make([]byte, 10*1024*1024+1)}}, hearth.TooLarge},
		{"zero bytes", []hearth.Upload{{Filename: "x.jpg"}}, hearth.Empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewObjectStore()
			p := newTestPipeline(store, nil)

			keys, err := p.Upload(context.Background(), unitOwner, hearth.StagePermanent, tt.uploads)
			assert.Nil(t, keys)
			var ve *hearth.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.kind, ve.Kind)
			assert.Empty(t, store.Calls(""))
		})
	}
}

func TestUpload_CompensatesOnOriginalFailure(t *testing.T) {
	store := mock.NewObjectStore()
	store.PutFn = func(_ context.Context, key string, _ []byte, _ string, _ hearth.Visibility) error {
		if key == "unit/42/images/id-2.jpg" {
			return errors.New("AccessDenied: Access Denied")
		}
		return nil
	}
	p := newTestPipeline(store, nil)

	keys, err := p.Upload(context.Background(), unitOwner, hearth.StagePermanent, []hearth.Upload{
		jpegUpload(t, "1.jpg"),
		jpegUpload(t, "2.jpg"),
		jpegUpload(t, "3.jpg"),
	})
	assert.Nil(t, keys)

	var se *hearth.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unit/42/images/id-2.jpg", se.Key)
	assert.False(t, se.Transient)

	// Asset #3 is never attempted.
	for _, c := range store.Calls("Put") {
		assert.False(t, strings.Contains(c.Key, "id-3"), c.Key)
	}

	// Asset #1 and every rendition written for it are gone.
	deletes := store.Calls("DeleteMany")
	require.Len(t, deletes, 1)
	assert.Contains(t, deletes[0].Keys, "unit/42/images/id-1.jpg")
	assert.Len(t, deletes[0].Keys, 5)
	assert.Empty(t, store.Keys())
}

func TestUpload_CleanupFailureIsObservable(t *testing.T) {
	store := mock.NewObjectStore()
	store.PutFn = func(_ context.Context, key string, _ []byte, _ string, _ hearth.Visibility) error {
		if strings.HasSuffix(key, "id-2.jpg") {
			return errors.New("boom")
		}
		return nil
	}
	store.DeleteManyFn = func(context.Context, []string) error {
		return errors.New("delete refused")
	}
	rec := &recorder{}
	p := newTestPipeline(store, rec)

	_, err := p.Upload(context.Background(), hearth.Owner{Kind: hearth.OwnerOffer, ID: "9"}, hearth.StagePermanent,
		[]hearth.Upload{jpegUpload(t, "a.jpg"), jpegUpload(t, "b.jpg")})

	// The caller still sees the original failure, not the cleanup one.
	var se *hearth.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "put", se.Op)

	events := rec.ofType(EventCleanupFailed)
	require.Len(t, events, 1)
	assert.Equal(t, "offer/9/images/id-1.jpg", events[0].Key)
}

func TestUpload_RenditionFailureTolerated(t *testing.T) {
	store := mock.NewObjectStore()
	rec := &recorder{}
	p := newTestPipeline(store, rec)

	// Not decodable: every rendition fails to derive.
	keys, err := p.Upload(context.Background(), unitOwner, hearth.StagePermanent, []hearth.Upload{
		{Filename: "broken.jpg", Data: []byte("not really a jpeg")},
	})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, store.Has(keys[0]))
	assert.Len(t, rec.ofType(EventRenditionFailed), 4)
	assert.Len(t, store.Keys(), 1)
}

func TestUpload_RenditionWriteFailureTolerated(t *testing.T) {
	store := mock.NewObjectStore()
	store.PutFn = func(_ context.Context, key string, _ []byte, _ string, _ hearth.Visibility) error {
		if strings.Contains(key, "_") {
			return errors.New("SlowDown")
		}
		return nil
	}
	rec := &recorder{}
	p := newTestPipeline(store, rec)

	keys, err := p.Upload(context.Background(), hearth.Owner{Kind: hearth.OwnerSubUnit, ID: "5"}, hearth.StagePermanent,
		[]hearth.Upload{jpegUpload(t, "a.png")})
	require.NoError(t, err)
	assert.Equal(t, []string{"subunit/5/images/id-1.png"}, keys)
	assert.Len(t, rec.ofType(EventRenditionFailed), 2)
}

func TestUpload_Staging(t *testing.T) {
	store := mock.NewObjectStore()
	p := newTestPipeline(store, nil)

	keys, err := p.Upload(context.Background(), hearth.Owner{Kind: hearth.OwnerSubUnit, ID: "req-1"}, hearth.StageStaging,
		[]hearth.Upload{jpegUpload(t, "a.jpg"), jpegUpload(t, "b.webp")})
	require.NoError(t, err)
	assert.Equal(t, []string{"staging/req-1/images/id-1.jpg", "staging/req-1/images/id-2.webp"}, keys)

	obj, ok := store.Object(keys[0])
	require.True(t, ok)
	assert.Equal(t, hearth.Private, obj.Visibility)
	assert.True(t, store.Has("staging/req-1/images/id-1_thumbnail.jpg"))
	assert.True(t, store.Has("staging/req-1/images/id-1_medium.jpg"))
}

func TestUpload_Cancelled(t *testing.T) {
	store := mock.NewObjectStore()
	ctx, cancel := context.WithCancel(context.Background())
	store.PutFn = func(_ context.Context, key string, _ []byte, _ string, _ hearth.Visibility) error {
		if key == "offer/1/images/id-1.jpg" {
			cancel()
		}
		return nil
	}
	p := newTestPipeline(store, nil)

	keys, err := p.Upload(ctx, hearth.Owner{Kind: hearth.OwnerOffer, ID: "1"}, hearth.StagePermanent,
		[]hearth.Upload{jpegUpload(t, "a.jpg"), jpegUpload(t, "b.jpg")})
	assert.Nil(t, keys)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, hearth.IsTransient(err))

	// The committed first asset was compensated despite the cancelled context.
	assert.Empty(t, store.Keys())
}

func TestUpload_UnknownOwnerKind(t *testing.T) {
	p := newTestPipeline(mock.NewObjectStore(), nil)
	_, err := p.Upload(context.Background(), hearth.Owner{Kind: "castle", ID: "1"}, hearth.StagePermanent,
		[]hearth.Upload{jpegUpload(t, "a.jpg")})
	assert.True(t, hearth.IsErrorCode(err, hearth.EINVALID))
}

func TestUpload_StagingTokenReused(t *testing.T) {
	store := mock.NewObjectStore()
	p := newTestPipeline(store, nil)
	reg := hearth.Owner{Kind: hearth.OwnerOffer, ID: "reg1"}

	first, err := p.Upload(context.Background(), reg, hearth.StageStaging, []hearth.Upload{jpegUpload(t, "a.jpg")})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The second batch under the same token fails on its second original.
	store.PutFn = func(_ context.Context, key string, _ []byte, _ string, _ hearth.Visibility) error {
		if key == "staging/reg1/images/id-3.jpg" {
			return errors.New("connection reset")
		}
		return nil
	}
	second, err := p.Upload(context.Background(), reg, hearth.StageStaging,
		[]hearth.Upload{jpegUpload(t, "b.jpg"), jpegUpload(t, "c.jpg")})
	require.Error(t, err)
	assert.Nil(t, second)

	// Only the failed batch was rolled back; the first batch never shared a key with it.
	assert.Equal(t, first, store.Keys())
	obj, ok := store.Object(first[0])
	require.True(t, ok)
	assert.Equal(t, hearth.Private, obj.Visibility)
}

func TestUpload_DisplayOrderDefaultsToBatchPosition(t *testing.T) {
	store := mock.NewObjectStore()
	p := newTestPipeline(store, nil)
	offer := hearth.Owner{Kind: hearth.OwnerOffer, ID: "9"}

	keys, err := p.Upload(context.Background(), offer, hearth.StagePermanent,
		[]hearth.Upload{jpegUpload(t, "a.jpg"), jpegUpload(t, "b.jpg"), jpegUpload(t, "c.jpg")})
	require.NoError(t, err)

	for i, k := range keys {
		order, ok, err := p.DisplayOrder(context.Background(), k)
		require.NoError(t, err)
		assert.True(t, ok, k)
		assert.Equal(t, i, order, k)
	}

	ordered, err := p.Ordered(context.Background(), []string{keys[2], keys[0], keys[1]})
	require.NoError(t, err)
	assert.Equal(t, keys, ordered)
}

func TestUpload_HugeRasterIsRenditionFailure(t *testing.T) {
	store := mock.NewObjectStore()
	rec := &recorder{}
	p := newTestPipeline(store, rec)

	keys, err := p.Upload(context.Background(), hearth.Owner{Kind: hearth.OwnerSubUnit, ID: "3"}, hearth.StagePermanent,
		[]hearth.Upload{{Filename: "huge.png", Data: pngHeader(60000, 60000)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"subunit/3/images/id-1.png"}, keys)

	failed := rec.ofType(EventRenditionFailed)
	require.Len(t, failed, 2)
	for _, e := range failed {
		assert.ErrorIs(t, e.Err, ErrTooManyPixels)
	}
	assert.Equal(t, keys, store.Keys())
}
