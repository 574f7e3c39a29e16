// Package jsonl reads and writes JSON Lines files used to import claim index
// rows and export the asset cache. Writes are atomic (temp file, fsync,
// rename).
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/speech/pkg/types"
)

// ReadRecords reads a JSONL file and returns each non-empty, parseable line
// as a json.RawMessage. Malformed lines are skipped.
func ReadRecords(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// WriteRecords atomically writes records to a JSONL file.
func WriteRecords(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// ReadClaims reads claim index rows from a JSONL file. Lines that do not
// decode, or that lack a name or claim ID, are skipped. Unknown fields are
// ignored.
func ReadClaims(path string) ([]types.Claim, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	claims := make([]types.Claim, 0, len(records))
	for _, rec := range records {
		var c types.Claim
		if err := json.Unmarshal(rec, &c); err != nil {
			continue
		}
		if types.ValidateKey(c.Name, c.ClaimID) != nil || c.Height < 0 || c.Amount < 0 {
			continue
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// assetLine is the export form of an asset record; unlike the presentation
// JSON it keeps every stored column.
type assetLine struct {
	AssetID  string `json:"asset_id"`
	Name     string `json:"name"`
	ClaimID  string `json:"claim_id"`
	Outpoint string `json:"outpoint"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
	NSFW     bool   `json:"nsfw"`
	Address  string `json:"address"`
	Height   int64  `json:"height"`
}

// WriteAssets atomically writes asset records to a JSONL file, one per line.
func WriteAssets(path string, recs []types.AssetRecord) error {
	records := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		b, err := json.Marshal(assetLine{
			AssetID:  r.AssetID,
			Name:     r.Name,
			ClaimID:  r.ClaimID,
			Outpoint: r.Outpoint,
			FileName: r.FileName,
			FilePath: r.FilePath,
			FileType: r.FileType,
			NSFW:     r.NSFW,
			Address:  r.Address,
			Height:   r.Height,
		})
		if err != nil {
			return fmt.Errorf("marshaling asset %s#%s: %w", r.Name, r.ClaimID, err)
		}
		records = append(records, b)
	}
	return WriteRecords(path, records)
}

// ReadAssets reads asset records written by WriteAssets. Lines that do not
// decode or lack a valid key are skipped.
func ReadAssets(path string) ([]types.AssetRecord, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	recs := make([]types.AssetRecord, 0, len(records))
	for _, rec := range records {
		var l assetLine
		if err := json.Unmarshal(rec, &l); err != nil || types.ValidateKey(l.Name, l.ClaimID) != nil {
			continue
		}
		recs = append(recs, types.AssetRecord{
			AssetID:  l.AssetID,
			Name:     l.Name,
			ClaimID:  l.ClaimID,
			Outpoint: l.Outpoint,
			FileName: l.FileName,
			FilePath: l.FilePath,
			FileType: l.FileType,
			NSFW:     l.NSFW,
			Address:  l.Address,
			Height:   l.Height,
		})
	}
	return recs, nil
}
