package types

import "github.com/google/uuid"

// AssetRecord is a materialized asset in the asset cache, unique by
// (Name, ClaimID). Records are written once and never updated.
type AssetRecord struct {
	AssetID  string `json:"-"`
	Name     string `json:"name"`
	ClaimID  string `json:"claimId"`
	Outpoint string `json:"outpoint"`
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	FileType string `json:"fileType"`
	NSFW     bool   `json:"nsfw"`
	Address  string `json:"-"`
	Height   int64  `json:"-"`
}

// FetchResult is the asset metadata returned by a ContentProvider for a
// qualified name.
type FetchResult struct {
	Name         string `json:"name"`
	ClaimID      string `json:"claim_id"`
	Outpoint     string `json:"outpoint"`
	FileName     string `json:"file_name"`
	DownloadPath string `json:"download_path"`
	MimeType     string `json:"mime_type"`
	Metadata     struct {
		Stream struct {
			Metadata struct {
				NSFW bool `json:"nsfw"`
			} `json:"metadata"`
		} `json:"stream"`
	} `json:"metadata"`
}

// NewAssetRecord builds the cache record for a fetch result of the given
// claim. The key, Address and Height come from the claim so the record is
// always stored under the pair that was looked up; the rest comes from the
// fetch.
func NewAssetRecord(fetched *FetchResult, claim *Claim) *AssetRecord {
	return &AssetRecord{
		Name:     claim.Name,
		ClaimID:  claim.ClaimID,
		Outpoint: fetched.Outpoint,
		FileName: fetched.FileName,
		FilePath: fetched.DownloadPath,
		FileType: fetched.MimeType,
		NSFW:     fetched.Metadata.Stream.Metadata.NSFW,
		Address:  claim.Address,
		Height:   claim.Height,
	}
}

// InsertResult tags the outcome of an asset cache insert.
type InsertResult int

const (
	// Inserted means this call created the row.
	Inserted InsertResult = iota + 1
	// AlreadyExists means a row with the same (name, claimId) was already
	// present, typically written by a concurrent resolution.
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// NewAssetID generates a UUID v7 asset ID, falling back to v4 if the clock
// source fails.
func NewAssetID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
