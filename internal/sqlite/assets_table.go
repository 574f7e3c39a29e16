// This file implements the asset cache: point lookups by (name, claim_id)
// and insert-only writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/speech/pkg/types"
)

const assetColumns = "asset_id, name, claim_id, outpoint, file_name, file_path, file_type, nsfw, address, height"

func hydrateAsset(row scanner) (*types.AssetRecord, error) {
	var r types.AssetRecord
	err := row.Scan(&r.AssetID, &r.Name, &r.ClaimID, &r.Outpoint, &r.FileName,
		&r.FilePath, &r.FileType, &r.NSFW, &r.Address, &r.Height)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindCachedAsset implements types.AssetCache.
func (b *Backend) FindCachedAsset(ctx context.Context, name, claimID string) (*types.AssetRecord, bool, error) {
	db, err := b.handle()
	if err != nil {
		return nil, false, err
	}
	row := db.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE name = ? AND claim_id = ?",
		name, claimID,
	)
	rec, err := hydrateAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("finding asset %s#%s: %w", name, claimID, types.WrapTimeout(err))
	}
	return rec, true, nil
}

// InsertCachedAsset implements types.AssetCache. A UUID v7 asset ID is
// generated when rec has none; it is written back to rec only when the row
// was inserted.
func (b *Backend) InsertCachedAsset(ctx context.Context, rec *types.AssetRecord) (types.InsertResult, error) {
	if err := types.ValidateKey(rec.Name, rec.ClaimID); err != nil {
		return 0, err
	}
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	id := rec.AssetID
	if id == "" {
		id = types.NewAssetID()
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO assets ("+assetColumns+", created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, rec.Name, rec.ClaimID, rec.Outpoint, rec.FileName, rec.FilePath, rec.FileType,
		rec.NSFW, rec.Address, rec.Height, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			b.logger.Debug("asset already cached", "name", rec.Name, "claim_id", rec.ClaimID)
			return types.AlreadyExists, nil
		}
		return 0, fmt.Errorf("inserting asset %s#%s: %w", rec.Name, rec.ClaimID, types.WrapTimeout(err))
	}
	rec.AssetID = id
	return types.Inserted, nil
}

// ListAssets returns every cached asset ordered by name then claim ID.
func (b *Backend) ListAssets(ctx context.Context) ([]types.AssetRecord, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY name, claim_id")
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", types.WrapTimeout(err))
	}
	defer rows.Close()

	var recs []types.AssetRecord
	for rows.Next() {
		rec, err := hydrateAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}
