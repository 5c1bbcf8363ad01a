// Package rediscache is a Redis-backed dialogue.Cache, so that several
// npcmind instances behind a load balancer share cached NPC responses.
//
// Each response is a plain string key with a TTL. A sorted set indexes the
// keys by insertion order; when it reaches the size limit the oldest half is
// popped and deleted, mirroring the in-memory cache.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/npcmind/internal/dialogue"
)

// DefaultPrefix namespaces all keys written by the cache.
const DefaultPrefix = "npcmind:dialogue:"

// Cache implements dialogue.Cache on Redis. It is safe for concurrent use.
type Cache struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	maxSize int64
}

var _ dialogue.Cache = (*Cache)(nil)

// Option configures a [Cache].
type Option func(*Cache)

// WithPrefix sets the key prefix. Default: [DefaultPrefix].
func WithPrefix(p string) Option {
	return func(c *Cache) { c.prefix = p }
}

// WithTTL expires entries after d. Zero keeps them until evicted.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithMaxSize bounds the number of entries. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(c *Cache) { c.maxSize = int64(n) }
}

// New returns a cache on rdb. The caller keeps ownership of rdb.
func New(rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, prefix: DefaultPrefix}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial connects to the Redis server at url (redis://host:port/db) and
// returns a cache that owns the connection.
func Dial(ctx context.Context, url string, opts ...Option) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("rediscache: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	slog.Info("rediscache: connected", "addr", opt.Addr, "db", opt.DB)
	return New(rdb, opts...), nil
}

// Close closes the underlying client.
func (c *Cache) Close() error { return c.rdb.Close() }

// Ping checks that the server is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("rediscache: ping: %w", err)
	}
	return nil
}

func (c *Cache) indexKey() string { return c.prefix + "index" }
func (c *Cache) seqKey() string   { return c.prefix + "seq" }
func (c *Cache) entryKey(k string) string {
	return c.prefix + "entry:" + k
}

// Get implements dialogue.Cache.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, c.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rediscache: get: %w", err)
	}
	return v, true, nil
}

// Set implements dialogue.Cache.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if c.maxSize > 0 {
		if err := c.evict(ctx); err != nil {
			return err
		}
	}
	seq, err := c.rdb.Incr(ctx, c.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.entryKey(key), value, c.ttl)
		// NX keeps the original insertion order when a key is overwritten.
		p.ZAddNX(ctx, c.indexKey(), redis.Z{Score: float64(seq), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// evict drops the oldest half of the entries when the cache is full.
func (c *Cache) evict(ctx context.Context) error {
	n, err := c.rdb.ZCard(ctx, c.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("rediscache: size: %w", err)
	}
	if n < c.maxSize {
		return nil
	}
	popped, err := c.rdb.ZPopMin(ctx, c.indexKey(), max(n/2, 1)).Result()
	if err != nil {
		return fmt.Errorf("rediscache: evict: %w", err)
	}
	keys := make([]string, 0, len(popped))
	for _, z := range popped {
		if m, ok := z.Member.(string); ok {
			keys = append(keys, c.entryKey(m))
		}
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("rediscache: evict: %w", err)
		}
	}
	slog.Debug("rediscache: evicted entries", "count", len(keys))
	return nil
}

// Clear implements dialogue.Cache.
func (c *Cache) Clear(ctx context.Context) error {
	members, err := c.rdb.ZRange(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("rediscache: clear: %w", err)
	}
	keys := []string{c.indexKey(), c.seqKey()}
	for _, m := range members {
		keys = append(keys, c.entryKey(m))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("rediscache: clear: %w", err)
	}
	return nil
}

// Len returns the number of indexed entries. Entries whose TTL has passed
// are counted until they are evicted or cleared.
func (c *Cache) Len(ctx context.Context) (int, error) {
	n, err := c.rdb.ZCard(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscache: size: %w", err)
	}
	return int(n), nil
}
