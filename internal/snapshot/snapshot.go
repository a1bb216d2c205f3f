// Package snapshot caches REST snapshots (conversation lists, supplier
// directories) so the UI can render while offline or while a fetch is in
// flight. Values are whole-document replacements, never partial updates.
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"tradewire/internal/storage"

	"github.com/c-pro/geche"
)

// Fetch retrieves the authoritative snapshot body from the REST API.
type Fetch func(ctx context.Context) ([]byte, error)

// Cache layers a TTL memory cache over the durable snapshot bucket. A fetch
// failure falls back to the last persisted copy, so flaky connectivity
// degrades to stale data instead of an empty screen.
type Cache struct {
	mem geche.Geche[string, []byte]
	db  *storage.BboltStorage
	log *slog.Logger
	now func() time.Time
}

func NewCache(ctx context.Context, db *storage.BboltStorage, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		mem: geche.NewMapTTLCache[string, []byte](ctx, ttl, time.Minute),
		db:  db,
		log: log,
		now: time.Now,
	}
}

// Get returns the snapshot under key: memory first, then a fresh fetch
// persisted to disk, then the stale persisted copy if the fetch fails.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetch) ([]byte, error) {
	if body, err := c.mem.Get(key); err == nil {
		return body, nil
	}

	body, err := fetch(ctx)
	if err != nil {
		snap, derr := c.db.GetSnapshot(key)
		if derr == nil {
			c.log.Debug("serving stale snapshot", "key", key, "fetchedAt", snap.FetchedAt)
			return snap.Body, nil
		}
		return nil, err
	}

	c.mem.Set(key, body)
	if err := c.db.PutSnapshot(key, body, c.now()); err != nil {
		c.log.Warn("snapshot spill failed", "key", key, "error", err)
	}
	return body, nil
}

// Invalidate drops the in-memory copy so the next Get refetches.
func (c *Cache) Invalidate(key string) {
	_ = c.mem.Del(key)
}
