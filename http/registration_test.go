package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dukerupert/hearth"
	"github.com/dukerupert/hearth/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadStagingImages(t *testing.T) {
	s := newTestServer(t)

	var created []*hearth.Asset
	s.assets.CreateAssetsFn = func(ctx context.Context, assets []*hearth.Asset) error {
		created = assets
		return nil
	}

	img := createTestImage(t, 300, 200)
	rec := s.do(multipartRequest(t, "/api/registrations/tok-1/images?kind=subunit",
		testFile{name: "a.jpg", data: img},
		testFile{name: "b.jpeg", data: img},
	))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[ListResponse[ImageResponse]](t, rec)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "staging/tok-1/images/id-1.jpg", resp.Data[0].Key)
	assert.Equal(t, "staging/tok-1/images/id-2.jpeg", resp.Data[1].Key)
	assert.Contains(t, resp.Data[0].URL, "expires=")
	assert.Len(t, resp.Data[0].Renditions, 2)
	assert.Contains(t, resp.Data[0].Renditions["medium"], "staging/tok-1/images/id-1_medium.jpg?")

	require.Len(t, created, 2)
	for _, a := range created {
		assert.Equal(t, hearth.OwnerSubUnit, a.OwnerKind)
		assert.Equal(t, "tok-1", a.OwnerID)
		assert.Equal(t, hearth.StageStaging, a.Stage)
	}

	obj, ok := s.store.Object("staging/tok-1/images/id-1.jpg")
	require.True(t, ok)
	assert.Equal(t, hearth.Private, obj.Visibility)
	obj, ok = s.store.Object("staging/tok-1/images/id-1_thumbnail.jpg")
	require.True(t, ok)
	assert.Equal(t, hearth.Private, obj.Visibility)
}

func TestUploadStagingImages_SameTokenTwice(t *testing.T) {
	s := newTestServer(t)
	img := createTestImage(t, 40, 30)

	var keys []string
	for range 2 {
		rec := s.do(multipartRequest(t, "/api/registrations/tok-2/images?kind=offer", testFile{name: "a.jpg", data: img}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[ListResponse[ImageResponse]](t, rec)
		require.Len(t, resp.Data, 1)
		keys = append(keys, resp.Data[0].Key)
	}

	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, keys, s.store.Keys())
}

func TestUploadStagingImages_RequiresKind(t *testing.T) {
	s := newTestServer(t)
	img := createTestImage(t, 30, 20)

	for _, target := range []string{
		"/api/registrations/tok-1/images",
		"/api/registrations/tok-1/images?kind=castle",
		"/api/registrations/t.o.k/images?kind=unit",
	} {
		rec := s.do(multipartRequest(t, target, testFile{name: "a.jpg", data: img}))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Empty(t, s.store.Keys())
}

// stageImages seeds a registration's staged originals and renditions and
// returns their keys.
func stageImages(s *testServer, token string, kind hearth.OwnerKind, n int) []string {
	set := hearth.DefaultPolicies()[kind].Renditions
	var keys []string
	for i := 0; i < n; i++ {
		k := media.StagingKey(token, fmt.Sprintf("s%d", i), ".jpg")
		s.store.Seed(k, []byte("original"), "image/jpeg")
		for _, rk := range media.RenditionKeys(k, set) {
			s.store.Seed(rk, []byte("rendition"), "image/jpeg")
		}
		keys = append(keys, k)
	}

	s.assets.FindAssetsFn = func(ctx context.Context, filter hearth.AssetFilter) ([]*hearth.Asset, error) {
		if filter.Stage == nil || *filter.Stage != hearth.StageStaging ||
			filter.OwnerID == nil || *filter.OwnerID != token ||
			filter.OwnerKind == nil || *filter.OwnerKind != kind {
			return []*hearth.Asset{}, nil
		}
		out := make([]*hearth.Asset, len(keys))
		for i, k := range keys {
			out[i] = &hearth.Asset{OwnerKind: kind, OwnerID: token, Key: k, Stage: hearth.StageStaging}
		}
		return out, nil
	}
	return keys
}

func TestPromoteRegistration(t *testing.T) {
	s := newTestServer(t)
	staged := stageImages(s, "tok-9", hearth.OwnerSubUnit, 2)

	moved := map[string]string{}
	s.assets.PromoteAssetFn = func(ctx context.Context, stagingKey string, owner hearth.Owner, permanentKey string) (*hearth.Asset, error) {
		assert.Equal(t, hearth.Owner{Kind: hearth.OwnerSubUnit, ID: "77"}, owner)
		moved[stagingKey] = permanentKey
		return &hearth.Asset{OwnerKind: owner.Kind, OwnerID: owner.ID, Key: permanentKey, Stage: hearth.StagePermanent}, nil
	}

	rec := s.do(jsonRequest(t, http.MethodPost, "/api/registrations/tok-9/promote",
		map[string]string{"ownerKind": "subunit", "ownerId": "77"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[PromoteResponse](t, rec)
	assert.Equal(t, 2, resp.Promoted)
	assert.Equal(t, 0, resp.Failed)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, staged[0], resp.Results[0].StagingKey)
	assert.Equal(t, "subunit/77/images/id-1.jpg", resp.Results[0].PermanentKey)
	assert.Equal(t, "subunit/77/images/id-2.jpg", resp.Results[1].PermanentKey)

	assert.Equal(t, map[string]string{
		staged[0]: "subunit/77/images/id-1.jpg",
		staged[1]: "subunit/77/images/id-2.jpg",
	}, moved)

	assert.Equal(t, []string{
		"subunit/77/images/id-1.jpg",
		"subunit/77/images/id-1_medium.jpg",
		"subunit/77/images/id-1_thumbnail.jpg",
		"subunit/77/images/id-2.jpg",
		"subunit/77/images/id-2_medium.jpg",
		"subunit/77/images/id-2_thumbnail.jpg",
	}, s.store.Keys())

	obj, ok := s.store.Object("subunit/77/images/id-1_thumbnail.jpg")
	require.True(t, ok)
	assert.Equal(t, hearth.Public, obj.Visibility)
}

func TestPromoteRegistration_PartialFailure(t *testing.T) {
	s := newTestServer(t)
	staged := stageImages(s, "tok-3", hearth.OwnerOffer, 2)

	s.store.CopyFn = func(ctx context.Context, src, dst string, vis hearth.Visibility) error {
		if src == staged[1] {
			return &hearth.StorageError{Op: "copy", Key: src, Transient: true, Err: errors.New("timeout")}
		}
		return nil
	}
	var promoted []string
	s.assets.PromoteAssetFn = func(ctx context.Context, stagingKey string, owner hearth.Owner, permanentKey string) (*hearth.Asset, error) {
		promoted = append(promoted, stagingKey)
		return &hearth.Asset{}, nil
	}

	rec := s.do(jsonRequest(t, http.MethodPost, "/api/registrations/tok-3/promote",
		map[string]string{"ownerKind": "offer", "ownerId": "12"}))

	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	resp := decode[PromoteResponse](t, rec)
	assert.Equal(t, 1, resp.Promoted)
	assert.Equal(t, 1, resp.Failed)

	assert.Empty(t, resp.Results[0].Error)
	assert.Equal(t, hearth.EUNAVAILABLE, resp.Results[1].Error)
	assert.True(t, resp.Results[1].Retryable)
	assert.Empty(t, resp.Results[1].PermanentKey)

	assert.Equal(t, []string{staged[0]}, promoted)
	assert.False(t, s.store.Has(staged[0]))
	assert.True(t, s.store.Has(staged[1]), "failed items stay staged for retry")
}

func TestPromoteRegistration_RecordFailure(t *testing.T) {
	s := newTestServer(t)
	stageImages(s, "tok-4", hearth.OwnerOffer, 1)
	s.assets.PromoteAssetFn = func(ctx context.Context, stagingKey string, owner hearth.Owner, permanentKey string) (*hearth.Asset, error) {
		return nil, hearth.Internal("Failed to promote asset", errors.New("connection refused"))
	}

	rec := s.do(jsonRequest(t, http.MethodPost, "/api/registrations/tok-4/promote",
		map[string]string{"ownerKind": "offer", "ownerId": "12"}))

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	resp := decode[PromoteResponse](t, rec)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, hearth.EINTERNAL, resp.Results[0].Error)
	assert.Equal(t, "offer/12/images/id-1.jpg", resp.Results[0].PermanentKey)
	assert.False(t, resp.Results[0].Retryable)
}

func TestPromoteRegistration_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		body       map[string]string
		wantStatus int
	}{
		{name: "nothing staged", token: "tok-empty", body: map[string]string{"ownerKind": "unit", "ownerId": "1"}, wantStatus: http.StatusNotFound},
		{name: "staged under another kind", token: "tok-5", body: map[string]string{"ownerKind": "unit", "ownerId": "1"}, wantStatus: http.StatusNotFound},
		{name: "missing owner", token: "tok-5", body: map[string]string{"ownerKind": "offer"}, wantStatus: http.StatusBadRequest},
		{name: "unknown kind", token: "tok-5", body: map[string]string{"ownerKind": "castle", "ownerId": "1"}, wantStatus: http.StatusBadRequest},
		{name: "unsafe owner id", token: "tok-5", body: map[string]string{"ownerKind": "offer", "ownerId": "../1"}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			stageImages(s, "tok-5", hearth.OwnerOffer, 1)

			rec := s.do(jsonRequest(t, http.MethodPost, "/api/registrations/"+tt.token+"/promote", tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Empty(t, s.store.Calls("Copy"))
		})
	}
}

func TestSignedURL(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name        string
		query       url.Values
		wantStatus  int
		wantExpires bool
	}{
		{name: "explicit minutes", query: url.Values{"key": {"staging/t/images/0.jpg"}, "minutes": {"15"}}, wantStatus: http.StatusOK, wantExpires: true},
		{name: "default minutes", query: url.Values{"key": {"unit/1/images/a.jpg"}}, wantStatus: http.StatusOK, wantExpires: true},
		{name: "missing key", query: url.Values{}, wantStatus: http.StatusBadRequest},
		{name: "minutes out of range", query: url.Values{"key": {"a.jpg"}, "minutes": {"-5"}}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(httptest.NewRequest(http.MethodGet, "/api/media/url?"+tt.query.Encode(), nil))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if !tt.wantExpires {
				return
			}
			resp := decode[SignedURLResponse](t, rec)
			assert.Equal(t, tt.query.Get("key"), resp.Key)
			assert.True(t, strings.HasPrefix(resp.URL, "https://mock-storage.example.com/"+resp.Key+"?"))
			assert.False(t, resp.ExpiresAt.IsZero())
		})
	}
}
