// Package postgres implements the PostgreSQL storage backend for speech on a
// pgx connection pool. It serves the same claim index and asset cache as the
// SQLite backend for deployments that share one database across resolvers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesh-intelligence/speech/internal/jsonl"
	"github.com/mesh-intelligence/speech/pkg/types"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS claims (
    claim_row BIGSERIAL PRIMARY KEY,
    claim_id TEXT NOT NULL,
    name TEXT NOT NULL,
    height BIGINT NOT NULL,
    amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    certificate_id TEXT,
    address TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assets (
    asset_id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    outpoint TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    file_type TEXT NOT NULL,
    nsfw BOOLEAN NOT NULL DEFAULT FALSE,
    address TEXT NOT NULL DEFAULT '',
    height BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_claims_name ON claims(name, claim_id);
CREATE INDEX IF NOT EXISTS idx_claims_claim_id ON claims(claim_id);
CREATE INDEX IF NOT EXISTS idx_claims_certificate ON claims(name, certificate_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_name_claim ON assets(name, claim_id);
`

const (
	claimColumns = "name, claim_id, height, amount, COALESCE(certificate_id, ''), address"
	assetColumns = "asset_id::text, name, claim_id, outpoint, file_name, file_path, file_type, nsfw, address, height"
)

// Compile-time interface check: Store must implement types.Backend.
var _ types.Backend = (*Store)(nil)

// Store implements types.Store on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to databaseURL, verifies connectivity and creates the schema
// when missing. A nil logger discards output.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if databaseURL == "" {
		return nil, types.ErrDatabaseURLEmpty
	}

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", types.WrapTimeout(err))
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{pool: pool, logger: logger.With("component", "postgres")}
	s.logger.Info("postgres store ready", "max_conns", poolConfig.MaxConns)
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanClaim(row pgx.Row) (types.Claim, error) {
	var c types.Claim
	err := row.Scan(&c.Name, &c.ClaimID, &c.Height, &c.Amount, &c.CertificateID, &c.Address)
	return c, err
}

func (s *Store) queryClaims(ctx context.Context, query string, args ...any) ([]types.Claim, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, types.WrapTimeout(err)
	}
	claims, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Claim, error) {
		return scanClaim(row)
	})
	if err != nil {
		return nil, types.WrapTimeout(err)
	}
	return claims, nil
}

// ResolveClaim implements types.ClaimIndex.
func (s *Store) ResolveClaim(ctx context.Context, name, claimID string) (*types.Claim, bool, error) {
	claims, err := s.queryClaims(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = $1 AND claim_id = $2 LIMIT 2",
		name, claimID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("resolving claim %s#%s: %w", name, claimID, err)
	}
	switch len(claims) {
	case 0:
		return nil, false, nil
	case 1:
		return &claims[0], true, nil
	default:
		return nil, false, fmt.Errorf("%w: more than one entry matches %s#%s", types.ErrIntegrity, name, claimID)
	}
}

// ListClaimsByName implements types.ClaimIndex.
func (s *Store) ListClaimsByName(ctx context.Context, name string) ([]types.Claim, error) {
	claims, err := s.queryClaims(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = $1 ORDER BY claim_id",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("listing claims for %s: %w", name, err)
	}
	return claims, nil
}

// ListFreeClaims implements types.ClaimIndex.
func (s *Store) ListFreeClaims(ctx context.Context, name string) ([]types.Claim, error) {
	claims, err := s.queryClaims(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = $1 ORDER BY amount DESC, height ASC, claim_id ASC",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("listing free claims for %s: %w", name, err)
	}
	return claims, nil
}

// TopFreeClaim implements types.ClaimIndex.
func (s *Store) TopFreeClaim(ctx context.Context, name string) (*types.Claim, bool, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = $1 ORDER BY amount DESC, height ASC, claim_id ASC LIMIT 1",
		name,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("finding top claim for %s: %w", name, types.WrapTimeout(err))
	}
	return &c, true, nil
}

// FindClaimByShortPrefix implements types.ClaimIndex.
func (s *Store) FindClaimByShortPrefix(ctx context.Context, name, prefix string) (string, error) {
	if prefix == "" {
		return "", types.ErrInvalidShortID
	}
	var claimID string
	err := s.pool.QueryRow(ctx,
		"SELECT claim_id FROM claims WHERE name = $1 AND starts_with(claim_id, $2) ORDER BY height ASC, claim_id ASC LIMIT 1",
		name, prefix,
	).Scan(&claimID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.ErrInvalidShortID
		}
		return "", fmt.Errorf("finding claim %s by short id %s: %w", name, prefix, types.WrapTimeout(err))
	}
	return claimID, nil
}

// FindClaimByChannel implements types.ClaimIndex.
func (s *Store) FindClaimByChannel(ctx context.Context, name, channelID string) (string, error) {
	var claimID string
	err := s.pool.QueryRow(ctx,
		"SELECT claim_id FROM claims WHERE name = $1 AND certificate_id = $2 LIMIT 1",
		name, channelID,
	).Scan(&claimID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.ErrInvalidChannelID
		}
		return "", fmt.Errorf("finding claim %s by channel %s: %w", name, channelID, types.WrapTimeout(err))
	}
	return claimID, nil
}

func scanAsset(row pgx.Row) (types.AssetRecord, error) {
	var r types.AssetRecord
	err := row.Scan(&r.AssetID, &r.Name, &r.ClaimID, &r.Outpoint, &r.FileName,
		&r.FilePath, &r.FileType, &r.NSFW, &r.Address, &r.Height)
	return r, err
}

// FindCachedAsset implements types.AssetCache.
func (s *Store) FindCachedAsset(ctx context.Context, name, claimID string) (*types.AssetRecord, bool, error) {
	r, err := scanAsset(s.pool.QueryRow(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE name = $1 AND claim_id = $2",
		name, claimID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("finding asset %s#%s: %w", name, claimID, types.WrapTimeout(err))
	}
	return &r, true, nil
}

// InsertCachedAsset implements types.AssetCache. The conflict is absorbed by
// ON CONFLICT DO NOTHING; a unique violation raised through another index is
// treated the same way.
func (s *Store) InsertCachedAsset(ctx context.Context, rec *types.AssetRecord) (types.InsertResult, error) {
	if err := types.ValidateKey(rec.Name, rec.ClaimID); err != nil {
		return 0, err
	}
	id := rec.AssetID
	if id == "" {
		id = types.NewAssetID()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO assets (asset_id, name, claim_id, outpoint, file_name, file_path, file_type, nsfw, address, height)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (name, claim_id) DO NOTHING`,
		id, rec.Name, rec.ClaimID, rec.Outpoint, rec.FileName, rec.FilePath, rec.FileType,
		rec.NSFW, rec.Address, rec.Height,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.AlreadyExists, nil
		}
		return 0, fmt.Errorf("inserting asset %s#%s: %w", rec.Name, rec.ClaimID, types.WrapTimeout(err))
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("asset already cached", "name", rec.Name, "claim_id", rec.ClaimID)
		return types.AlreadyExists, nil
	}
	rec.AssetID = id
	return types.Inserted, nil
}

// ListAssets returns every cached asset ordered by name then claim ID.
func (s *Store) ListAssets(ctx context.Context) ([]types.AssetRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY name, claim_id")
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", types.WrapTimeout(err))
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AssetRecord, error) {
		return scanAsset(row)
	})
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", types.WrapTimeout(err))
	}
	return recs, nil
}

// ImportClaims loads claims from a JSONL file in one transaction, skipping
// claims whose (name, claim_id) is already indexed. Returns the number of
// rows inserted.
func (s *Store) ImportClaims(ctx context.Context, path string) (int, error) {
	claims, err := jsonl.ReadClaims(path)
	if err != nil {
		return 0, fmt.Errorf("reading claims: %w", err)
	}
	if len(claims) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range claims {
		batch.Queue(`INSERT INTO claims (claim_id, name, height, amount, certificate_id, address)
SELECT $1::text, $2::text, $3::bigint, $4::double precision, NULLIF($5::text, ''), $6::text
WHERE NOT EXISTS (SELECT 1 FROM claims WHERE name = $2 AND claim_id = $1)`,
			c.ClaimID, c.Name, c.Height, c.Amount, c.CertificateID, c.Address)
	}
	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for _, c := range claims {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("inserting claim %s#%s: %w", c.Name, c.ClaimID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing import batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing import transaction: %w", err)
	}
	s.logger.Info("imported claims", "path", path, "read", len(claims), "inserted", inserted)
	return inserted, nil
}

// ExportAssets writes every cached asset to path as JSONL.
func (s *Store) ExportAssets(ctx context.Context, path string) (int, error) {
	recs, err := s.ListAssets(ctx)
	if err != nil {
		return 0, err
	}
	if err := jsonl.WriteAssets(path, recs); err != nil {
		return 0, fmt.Errorf("writing assets: %w", err)
	}
	return len(recs), nil
}
