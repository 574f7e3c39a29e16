// Package rediscache puts a Redis read-through layer in front of the asset
// cache of any types.Store. Asset records are immutable once inserted, so a
// cached entry never needs invalidation; entries expire after a TTL to bound
// memory. The underlying store stays the source of truth for uniqueness.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mesh-intelligence/speech/pkg/types"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "speech:asset:"

// Compile-time interface check: Store must implement types.Store.
var _ types.Store = (*Store)(nil)

// Store wraps a types.Store; claim index calls pass through unchanged.
type Store struct {
	types.Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// entry is the cached form of an asset record.
type entry struct {
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

// Wrap returns inner fronted by client. A non-positive ttl uses
// types.DefaultRedisTTL. A nil logger discards output.
func Wrap(inner types.Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = types.DefaultRedisTTL
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		Store:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "rediscache"),
	}
}

// Dial creates a client for addr and checks that it answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, types.WrapTimeout(err))
	}
	return client, nil
}

func key(name, claimID string) string {
	return KeyPrefix + types.QualifiedName(name, claimID)
}

// FindCachedAsset implements types.AssetCache. Redis failures are logged and
// the lookup falls through to the wrapped store.
func (s *Store) FindCachedAsset(ctx context.Context, name, claimID string) (*types.AssetRecord, bool, error) {
	if err := types.ValidateKey(name, claimID); err != nil {
		return nil, false, err
	}
	raw, err := s.client.Get(ctx, key(name, claimID)).Bytes()
	switch {
	case err == nil:
		var e entry
		if jerr := json.Unmarshal(raw, &e); jerr == nil {
			rec := types.AssetRecord(e)
			return &rec, true, nil
		}
		s.logger.Warn("discarding undecodable cache entry", "name", name, "claim_id", claimID)
	case errors.Is(err, redis.Nil):
	default:
		if ctx.Err() != nil {
			return nil, false, types.WrapTimeout(ctx.Err())
		}
		s.logger.Warn("redis get failed", "name", name, "claim_id", claimID, "error", err)
	}

	rec, ok, err := s.Store.FindCachedAsset(ctx, name, claimID)
	if err != nil || !ok {
		return rec, ok, err
	}
	s.remember(ctx, rec)
	return rec, true, nil
}

// InsertCachedAsset implements types.AssetCache. Only the record that won
// the insert is written to Redis.
func (s *Store) InsertCachedAsset(ctx context.Context, rec *types.AssetRecord) (types.InsertResult, error) {
	res, err := s.Store.InsertCachedAsset(ctx, rec)
	if err != nil {
		return res, err
	}
	if res == types.Inserted {
		s.remember(ctx, rec)
	}
	return res, nil
}

// Close closes the Redis client and then the wrapped store.
func (s *Store) Close() error {
	return errors.Join(s.client.Close(), s.Store.Close())
}

func (s *Store) remember(ctx context.Context, rec *types.AssetRecord) {
	raw, err := json.Marshal(entry(*rec))
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key(rec.Name, rec.ClaimID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", "name", rec.Name, "claim_id", rec.ClaimID, "error", err)
	}
}
