package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAssetRecord(t *testing.T) {
	fetched := &FetchResult{
		Name:         "cat",
		ClaimID:      "aaaa1111",
		Outpoint:     "txid:0",
		FileName:     "cat.gif",
		DownloadPath: "/media/cat.gif",
		MimeType:     "image/gif",
	}
	fetched.Metadata.Stream.Metadata.NSFW = true
	claim := &Claim{Name: "cat", ClaimID: "aaaa1111", Height: 100, Address: "bXaddr"}

	rec := NewAssetRecord(fetched, claim)

	assert.Equal(t, "cat", rec.Name)
	assert.Equal(t, "aaaa1111", rec.ClaimID)
	assert.Equal(t, "txid:0", rec.Outpoint)
	assert.Equal(t, "cat.gif", rec.FileName)
	assert.Equal(t, "/media/cat.gif", rec.FilePath)
	assert.Equal(t, "image/gif", rec.FileType)
	assert.True(t, rec.NSFW)
	assert.Equal(t, "bXaddr", rec.Address)
	assert.Equal(t, int64(100), rec.Height)
	assert.Empty(t, rec.AssetID)
}

func TestNewAssetRecordKeysByClaim(t *testing.T) {
	// The provider may echo a different spelling; the cache key follows the
	// claim that was looked up.
	fetched := &FetchResult{Name: "", ClaimID: "", MimeType: "video/mp4"}
	claim := &Claim{Name: "dog", ClaimID: "bbbb"}

	rec := NewAssetRecord(fetched, claim)

	assert.Equal(t, "dog", rec.Name)
	assert.Equal(t, "bbbb", rec.ClaimID)
}

func TestInsertResultString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "already_exists", AlreadyExists.String())
	assert.Equal(t, "unknown", InsertResult(0).String())
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "cat#aaaa1111", QualifiedName("cat", "aaaa1111"))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("cat", "aaaa"))
	assert.ErrorIs(t, ValidateKey("", "aaaa"), ErrInvalidName)
	assert.ErrorIs(t, ValidateKey("cat", ""), ErrInvalidClaimID)
	assert.ErrorIs(t, ValidateKey("a#b", "c"), ErrInvalidName)
	assert.ErrorIs(t, ValidateKey("a", "b#c"), ErrInvalidClaimID)
	assert.ErrorIs(t, ValidateKey("a", "b#c"), ErrNotFound)
}

func TestNewAssetID(t *testing.T) {
	a, b := NewAssetID(), NewAssetID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
