package hearth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Asset is the caller-side record of one stored original. Ownership and
// lifecycle stage are explicit columns; rendition keys and display order are
// never persisted.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	OwnerKind OwnerKind `json:"ownerKind"`
	OwnerID   string    `json:"ownerId"`
	Key       string    `json:"key"`
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssetService defines operations for managing asset records.
type AssetService interface {
	// CreateAssets inserts records for freshly committed keys.
	CreateAssets(ctx context.Context, assets []*Asset) error

	// FindAssets retrieves records matching the filter, oldest first.
	FindAssets(ctx context.Context, filter AssetFilter) ([]*Asset, error)

	// PromoteAsset moves a staged record to its permanent owner and key.
	// Returns ENOTFOUND if no staged record has stagingKey.
	PromoteAsset(ctx context.Context, stagingKey string, owner Owner, permanentKey string) (*Asset, error)

	// DeleteAssets removes the records for keys owned by owner.
	// Returns the keys that were actually removed.
	DeleteAssets(ctx context.Context, owner Owner, keys []string) ([]string, error)
}

// AssetFilter defines criteria for filtering asset records.
type AssetFilter struct {
	OwnerKind *OwnerKind
	OwnerID   *string
	Stage     *Stage

	// Pagination
	Offset int
	Limit  int
}
