// This file implements the claim index queries. Every query binds name,
// claim ID, prefix and channel ID as parameters.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/speech/pkg/types"
)

const claimColumns = "name, claim_id, height, amount, COALESCE(certificate_id, ''), address"

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func hydrateClaim(row scanner) (types.Claim, error) {
	var c types.Claim
	err := row.Scan(&c.Name, &c.ClaimID, &c.Height, &c.Amount, &c.CertificateID, &c.Address)
	return c, err
}

func (b *Backend) queryClaims(ctx context.Context, query string, args ...any) ([]types.Claim, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapTimeout(err)
	}
	defer rows.Close()

	var claims []types.Claim
	for rows.Next() {
		c, err := hydrateClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapTimeout(err)
	}
	return claims, nil
}

// ResolveClaim implements types.ClaimIndex.
func (b *Backend) ResolveClaim(ctx context.Context, name, claimID string) (*types.Claim, bool, error) {
	claims, err := b.queryClaims(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = ? AND claim_id = ? LIMIT 2",
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
func (b *Backend) ListClaimsByName(ctx context.Context, name string) ([]types.Claim, error) {
	claims, err := b.queryClaims(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = ? ORDER BY claim_id",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("listing claims for %s: %w", name, err)
	}
	return claims, nil
}

// ListFreeClaims implements types.ClaimIndex.
func (b *Backend) ListFreeClaims(ctx context.Context, name string) ([]types.Claim, error) {
	claims, err := b.queryClaims(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = ? ORDER BY amount DESC, height ASC, claim_id ASC",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("listing free claims for %s: %w", name, err)
	}
	return claims, nil
}

// TopFreeClaim implements types.ClaimIndex.
func (b *Backend) TopFreeClaim(ctx context.Context, name string) (*types.Claim, bool, error) {
	db, err := b.handle()
	if err != nil {
		return nil, false, err
	}
	row := db.QueryRowContext(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE name = ? ORDER BY amount DESC, height ASC, claim_id ASC LIMIT 1",
		name,
	)
	c, err := hydrateClaim(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("finding top claim for %s: %w", name, types.WrapTimeout(err))
	}
	return &c, true, nil
}

// FindClaimByShortPrefix implements types.ClaimIndex. The prefix comparison
// is exact and case-sensitive; LIKE is avoided so that '%' and '_' in the
// prefix carry no meaning.
func (b *Backend) FindClaimByShortPrefix(ctx context.Context, name, prefix string) (string, error) {
	if prefix == "" {
		return "", types.ErrInvalidShortID
	}
	db, err := b.handle()
	if err != nil {
		return "", err
	}
	var claimID string
	err = db.QueryRowContext(ctx,
		"SELECT claim_id FROM claims WHERE name = ? AND substr(claim_id, 1, ?) = ? ORDER BY height ASC, claim_id ASC LIMIT 1",
		name, len(prefix), prefix,
	).Scan(&claimID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.ErrInvalidShortID
		}
		return "", fmt.Errorf("finding claim %s by short id %s: %w", name, prefix, types.WrapTimeout(err))
	}
	return claimID, nil
}

// FindClaimByChannel implements types.ClaimIndex.
func (b *Backend) FindClaimByChannel(ctx context.Context, name, channelID string) (string, error) {
	db, err := b.handle()
	if err != nil {
		return "", err
	}
	var claimID string
	err = db.QueryRowContext(ctx,
		"SELECT claim_id FROM claims WHERE name = ? AND certificate_id = ? LIMIT 1",
		name, channelID,
	).Scan(&claimID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", types.ErrInvalidChannelID
		}
		return "", fmt.Errorf("finding claim %s by channel %s: %w", name, channelID, types.WrapTimeout(err))
	}
	return claimID, nil
}
