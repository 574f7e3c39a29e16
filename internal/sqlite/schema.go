package sqlite

// Schema DDL. claims mirrors the external claim index and carries no unique
// constraint on claim_id; lookups detect duplicates instead. assets is unique
// by (name, claim_id).
const (
	createClaims = `CREATE TABLE IF NOT EXISTS claims (
    claim_row INTEGER PRIMARY KEY AUTOINCREMENT,
    claim_id TEXT NOT NULL,
    name TEXT NOT NULL,
    height INTEGER NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    certificate_id TEXT,
    address TEXT NOT NULL DEFAULT ''
);`

	createAssets = `CREATE TABLE IF NOT EXISTS assets (
    asset_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    outpoint TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    file_type TEXT NOT NULL,
    nsfw INTEGER NOT NULL DEFAULT 0,
    address TEXT NOT NULL DEFAULT '',
    height INTEGER NOT NULL,
    created_at TEXT NOT NULL
);`
)

// Index DDL for the lookups the resolver runs.
const (
	idxClaimsName        = `CREATE INDEX IF NOT EXISTS idx_claims_name ON claims(name, claim_id);`
	idxClaimsClaimID     = `CREATE INDEX IF NOT EXISTS idx_claims_claim_id ON claims(claim_id);`
	idxClaimsCertificate = `CREATE INDEX IF NOT EXISTS idx_claims_certificate ON claims(name, certificate_id);`
	idxAssetsUnique      = `CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_name_claim ON assets(name, claim_id);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createClaims,
	createAssets,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxClaimsName,
	idxClaimsClaimID,
	idxClaimsCertificate,
	idxAssetsUnique,
}
