package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sentinel:key:"

// KeyStore looks up API key metadata by hash.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error)
}

// CachedKeyStore implements KeyStore with PostgreSQL + Redis cache.
type CachedKeyStore struct {
	db       *pgxpool.Pool
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client, cacheTTL time.Duration) *CachedKeyStore {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CachedKeyStore{db: db, redis: rdb, cacheTTL: cacheTTL}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var meta KeyMetadata
			if err := json.Unmarshal(cached, &meta); err == nil {
				return &meta, nil
			}
		}
	}

	meta, err := s.lookupDB(ctx, keyHash)
	if err != nil || meta == nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(meta); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, s.cacheTTL)
		}
	}
	return meta, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	var meta KeyMetadata
	var scopesJSON []byte

	err := s.db.QueryRow(ctx, `
		SELECT id, owner, name, scopes, rpm_limit, expires_at
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, keyHash).Scan(
		&meta.ID,
		&meta.Owner,
		&meta.Name,
		&scopesJSON,
		&meta.RPMLimit,
		&meta.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &meta.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
	}

	// last_used_at is best effort
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, meta.ID); err != nil {
			slog.Debug("update last_used_at failed", "key_id", meta.ID, "error", err)
		}
	}()

	return &meta, nil
}
