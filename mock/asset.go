package mock

import (
	"context"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/google/uuid"
)

// Compile-time interface check
var _ hearth.AssetService = (*AssetService)(nil)

// AssetService is a mock implementation of hearth.AssetService.
type AssetService struct {
	CreateAssetsFn func(ctx context.Context, assets []*hearth.Asset) error
	FindAssetsFn   func(ctx context.Context, filter hearth.AssetFilter) ([]*hearth.Asset, error)
	PromoteAssetFn func(ctx context.Context, stagingKey string, owner hearth.Owner, permanentKey string) (*hearth.Asset, error)
	DeleteAssetsFn func(ctx context.Context, owner hearth.Owner, keys []string) ([]string, error)
}

func (s *AssetService) CreateAssets(ctx context.Context, assets []*hearth.Asset) error {
	if s.CreateAssetsFn != nil {
		return s.CreateAssetsFn(ctx, assets)
	}
	for _, a := range assets {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = time.Now()
	}
	return nil
}

func (s *AssetService) FindAssets(ctx context.Context, filter hearth.AssetFilter) ([]*hearth.Asset, error) {
	if s.FindAssetsFn != nil {
		return s.FindAssetsFn(ctx, filter)
	}
	return []*hearth.Asset{}, nil
}

func (s *AssetService) PromoteAsset(ctx context.Context, stagingKey string, owner hearth.Owner, permanentKey string) (*hearth.Asset, error) {
	if s.PromoteAssetFn != nil {
		return s.PromoteAssetFn(ctx, stagingKey, owner, permanentKey)
	}
	return nil, hearth.NotFound("Asset not found")
}

func (s *AssetService) DeleteAssets(ctx context.Context, owner hearth.Owner, keys []string) ([]string, error) {
	if s.DeleteAssetsFn != nil {
		return s.DeleteAssetsFn(ctx, owner, keys)
	}
	return keys, nil
}
