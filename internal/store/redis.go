// Package store persists exported session snapshots. Redis holds hot
// snapshots with a TTL; Postgres is the durable archive.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"modelpanel/internal/common/config"
	"modelpanel/internal/discussion"
)

// ErrNotFound is returned when a snapshot does not exist in a store.
var ErrNotFound = errors.New("store: snapshot not found")

const snapshotKeyPrefix = "panel:snapshot:"

// SnapshotCache keeps recent session snapshots in Redis so the API
// can serve them without re-running aggregation.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache connects to Redis per the storage configuration.
func NewSnapshotCache(cfg config.RedisConfig) *SnapshotCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	return &SnapshotCache{
		client: rdb,
		ttl:    time.Duration(cfg.TTL) * time.Second,
	}
}

// newSnapshotCacheWithClient is the test seam for miniredis.
func newSnapshotCacheWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Ping tests the Redis connection.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *SnapshotCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Put stores a snapshot under its session ID with the configured TTL.
func (c *SnapshotCache) Put(ctx context.Context, snap *discussion.Snapshot) error {
	if snap == nil || snap.SessionID == "" {
		return fmt.Errorf("store: snapshot must have a session id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot %s: %w", snap.SessionID, err)
	}
	if err := c.client.Set(ctx, snapshotKeyPrefix+snap.SessionID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("store: cache snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

// Get retrieves a cached snapshot, or ErrNotFound after expiry.
func (c *SnapshotCache) Get(ctx context.Context, sessionID string) (*discussion.Snapshot, error) {
	raw, err := c.client.Get(ctx, snapshotKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot %s: %w", sessionID, err)
	}
	var snap discussion.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("store: decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Delete removes a cached snapshot. Deleting a missing key is not an
// error.
func (c *SnapshotCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, snapshotKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("store: delete snapshot %s: %w", sessionID, err)
	}
	return nil
}
