package postgres

import (
	"context"
	"fmt"

	"github.com/dukerupert/hearth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Compile-time check that AssetService implements hearth.AssetService.
var _ hearth.AssetService = (*AssetService)(nil)

const assetColumns = "id, owner_kind, owner_id, key, stage, created_at"

// AssetService implements hearth.AssetService using PostgreSQL.
type AssetService struct {
	db *DB
}

func scanAsset(row pgx.Row) (*hearth.Asset, error) {
	var (
		a         hearth.Asset
		ownerKind string
		stage     string
	)
	if err := row.Scan(&a.ID, &ownerKind, &a.OwnerID, &a.Key, &stage, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.OwnerKind = hearth.OwnerKind(ownerKind)
	a.Stage = hearth.Stage(stage)
	return &a, nil
}

// CreateAssets inserts all records in one transaction.
func (s *AssetService) CreateAssets(ctx context.Context, assets []*hearth.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	query := `
		INSERT INTO media_assets (id, owner_kind, owner_id, key, stage)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := pgx.BeginFunc(ctx, s.db.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range assets {
			if a.ID == uuid.Nil {
				a.ID = uuid.New()
			}
			batch.Queue(query, a.ID, string(a.OwnerKind), a.OwnerID, a.Key, string(a.Stage)).
				QueryRow(func(row pgx.Row) error {
					return row.Scan(&a.CreatedAt)
				})
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return wrapDatabaseError(err, "Asset not found", "Failed to create assets")
	}
	return nil
}

// FindAssets returns the records matching filter, oldest first.
func (s *AssetService) FindAssets(ctx context.Context, filter hearth.AssetFilter) ([]*hearth.Asset, error) {
	query, args := findAssetsQuery(filter)

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, hearth.Internal("Failed to list assets", err)
	}
	defer rows.Close()

	assets := []*hearth.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, hearth.Internal("Failed to read asset", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, hearth.Internal("Failed to list assets", err)
	}
	return assets, nil
}

// PromoteAsset moves the staged record for stagingKey to owner.
func (s *AssetService) PromoteAsset(ctx context.Context, stagingKey string, owner hearth.Owner, permanentKey string) (*hearth.Asset, error) {
	query := `
		UPDATE media_assets
		SET owner_kind = $1, owner_id = $2, key = $3, stage = $4
		WHERE key = $5 AND stage = $6
		RETURNING ` + assetColumns

	a, err := scanAsset(s.db.pool.QueryRow(ctx, query,
		string(owner.Kind),
		owner.ID,
		permanentKey,
		string(hearth.StagePermanent),
		stagingKey,
		string(hearth.StageStaging),
	))
	if err != nil {
		return nil, wrapDatabaseError(err, fmt.Sprintf("Staged asset %s not found", stagingKey), "Failed to promote asset")
	}
	return a, nil
}

// DeleteAssets removes owner's records for keys and returns the keys removed.
func (s *AssetService) DeleteAssets(ctx context.Context, owner hearth.Owner, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return []string{}, nil
	}

	query := `
		DELETE FROM media_assets
		WHERE owner_kind = $1 AND owner_id = $2 AND key = ANY($3)
		RETURNING key
	`

	rows, err := s.db.pool.Query(ctx, query, string(owner.Kind), owner.ID, keys)
	if err != nil {
		return nil, hearth.Internal("Failed to delete assets", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, hearth.Internal("Failed to delete assets", fmt.Errorf("reading deleted keys: %w", err))
	}
	return deleted, nil
}
