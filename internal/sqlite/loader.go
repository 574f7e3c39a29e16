// This file implements bulk claim import and asset export through JSONL.
package sqlite

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/speech/internal/jsonl"
)

// ImportClaims loads claims from a JSONL file into the claim index inside
// one transaction. A claim whose (name, claim_id) is already indexed is
// skipped. Returns the number of rows inserted.
func (b *Backend) ImportClaims(ctx context.Context, path string) (int, error) {
	claims, err := jsonl.ReadClaims(path)
	if err != nil {
		return 0, fmt.Errorf("reading claims: %w", err)
	}
	if len(claims) == 0 {
		return 0, nil
	}

	db, err := b.handle()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO claims (claim_id, name, height, amount, certificate_id, address)
SELECT ?, ?, ?, ?, NULLIF(?, ''), ?
WHERE NOT EXISTS (SELECT 1 FROM claims WHERE name = ? AND claim_id = ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing claim insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range claims {
		res, err := stmt.ExecContext(ctx,
			c.ClaimID, c.Name, c.Height, c.Amount, c.CertificateID, c.Address,
			c.Name, c.ClaimID,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting claim %s#%s: %w", c.Name, c.ClaimID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting inserted rows: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import transaction: %w", err)
	}
	b.logger.Info("imported claims", "path", path, "read", len(claims), "inserted", inserted)
	return inserted, nil
}

// ExportAssets writes every cached asset to path as JSONL. Returns the
// number of records written.
func (b *Backend) ExportAssets(ctx context.Context, path string) (int, error) {
	recs, err := b.ListAssets(ctx)
	if err != nil {
		return 0, err
	}
	if err := jsonl.WriteAssets(path, recs); err != nil {
		return 0, fmt.Errorf("writing assets: %w", err)
	}
	return len(recs), nil
}
