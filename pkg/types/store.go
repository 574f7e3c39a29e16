package types

import "context"

// ClaimIndex is the read-only view of claims registered under each name.
type ClaimIndex interface {
	// ResolveClaim returns the claim with the given name and claim ID.
	// ok is false when no such claim exists. More than one matching row
	// returns ErrIntegrity.
	ResolveClaim(ctx context.Context, name, claimID string) (claim *Claim, ok bool, err error)

	// ListClaimsByName returns every claim sharing name, ordered by claim ID.
	ListClaimsByName(ctx context.Context, name string) ([]Claim, error)

	// ListFreeClaims returns every claim sharing name, ordered by amount
	// descending then height ascending.
	ListFreeClaims(ctx context.Context, name string) ([]Claim, error)

	// TopFreeClaim returns the claim with the highest amount for name, ties
	// broken by the lowest height. ok is false when the name has no claims.
	TopFreeClaim(ctx context.Context, name string) (claim *Claim, ok bool, err error)

	// FindClaimByShortPrefix returns the claim ID of the earliest claim under
	// name whose ID starts with prefix. Returns ErrInvalidShortID if none match.
	FindClaimByShortPrefix(ctx context.Context, name, prefix string) (string, error)

	// FindClaimByChannel returns the claim ID of the claim under name owned by
	// channelID. Returns ErrInvalidChannelID if none match.
	FindClaimByChannel(ctx context.Context, name, channelID string) (string, error)
}

// AssetCache maps (name, claimId) to materialized asset records.
type AssetCache interface {
	// FindCachedAsset returns the cached record for the pair. ok is false on
	// a miss; a miss is not an error.
	FindCachedAsset(ctx context.Context, name, claimID string) (rec *AssetRecord, ok bool, err error)

	// InsertCachedAsset creates one row for rec. A row already present for
	// the same pair yields AlreadyExists, not an error.
	InsertCachedAsset(ctx context.Context, rec *AssetRecord) (InsertResult, error)
}

// Store is a relational backend serving both the claim index and the asset
// cache.
type Store interface {
	ClaimIndex
	AssetCache

	// Close releases backend resources.
	Close() error
}

// Backend is a Store that also loads claims from and dumps cached assets to
// JSONL files.
type Backend interface {
	Store

	// ImportClaims adds the claims in a JSONL file to the claim index,
	// skipping pairs already present. Returns the number of rows added.
	ImportClaims(ctx context.Context, path string) (int, error)

	// ExportAssets writes the asset cache to a JSONL file. Returns the
	// number of records written.
	ExportAssets(ctx context.Context, path string) (int, error)
}

// ContentProvider fetches asset metadata for a fully qualified
// "<name>#<claimId>" from the remote content service.
type ContentProvider interface {
	FetchClaim(ctx context.Context, qualifiedName string) (*FetchResult, error)
}
