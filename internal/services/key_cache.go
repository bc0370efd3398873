package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

// notFoundSentinel marks a cached miss so unknown key ids do not hit the
// database on every request.
const notFoundSentinel = "not_found"

// KeyCache caches API key lookups by key id. A hit with a nil key is a cached
// miss.
type KeyCache interface {
	Get(ctx context.Context, keyID string) (k *domain.APIKey, hit bool)
	Set(ctx context.Context, keyID string, k *domain.APIKey)
	Delete(ctx context.Context, keyID string)
}

// cachedKey is the serialized form of a key. APIKey hides its hash from JSON,
// so the cache carries it explicitly.
type cachedKey struct {
	ID          uint              `json:"id"`
	KeyID       string            `json:"key_id"`
	SecretHash  string            `json:"secret_hash"`
	Permissions domain.Permission `json:"permissions"`
	Owner       string            `json:"owner"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toCached(k *domain.APIKey) cachedKey {
	return cachedKey{
		ID: k.ID, KeyID: k.KeyID, SecretHash: k.SecretHash, Permissions: k.Permissions,
		Owner: k.Owner, Description: k.Description, CreatedAt: k.CreatedAt,
	}
}

func (c cachedKey) key() *domain.APIKey {
	return &domain.APIKey{
		ID: c.ID, KeyID: c.KeyID, SecretHash: c.SecretHash, Permissions: c.Permissions,
		Owner: c.Owner, Description: c.Description, CreatedAt: c.CreatedAt,
	}
}

// ---------- in-memory ----------

type memEntry struct {
	key     *domain.APIKey
	expires time.Time
}

// MemoryKeyCache is a per-process TTL cache.
//
// Expired entries are swept every memSweepEvery writes, and MaxEntries bounds
// the map even while every entry is live.
type MemoryKeyCache struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
	writes  int
}

const memSweepEvery = 1024

// NewMemoryKeyCache returns an empty cache with the given TTL holding at most
// 10000 entries.
func NewMemoryKeyCache(ttl time.Duration) *MemoryKeyCache {
	return &MemoryKeyCache{
		TTL:        ttl,
		MaxEntries: 10000,
		Now:        time.Now,
		entries:    make(map[string]memEntry),
	}
}

// Get implements KeyCache.
func (c *MemoryKeyCache) Get(_ context.Context, keyID string) (*domain.APIKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[keyID]
	if !ok {
		return nil, false
	}
	if !c.Now().Before(e.expires) {
		delete(c.entries, keyID)
		return nil, false
	}
	if e.key == nil {
		return nil, true
	}
	cp := *e.key
	return &cp, true
}

// Set implements KeyCache. A nil key stores a miss.
func (c *MemoryKeyCache) Set(_ context.Context, keyID string, k *domain.APIKey) {
	if c.TTL <= 0 {
		return
	}
	var stored *domain.APIKey
	if k != nil {
		cp := *k
		stored = &cp
	}
	now := c.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes++
	if c.writes >= memSweepEvery {
		c.sweepLocked(now)
		c.writes = 0
	}
	if _, exists := c.entries[keyID]; !exists && c.MaxEntries > 0 && len(c.entries) >= c.MaxEntries {
		c.sweepLocked(now)
		// Still full of live entries: make room by dropping arbitrary ones.
		for k := range c.entries {
			if len(c.entries) < c.MaxEntries {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[keyID] = memEntry{key: stored, expires: now.Add(c.TTL)}
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryKeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryKeyCache) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

// Delete implements KeyCache.
func (c *MemoryKeyCache) Delete(_ context.Context, keyID string) {
	c.mu.Lock()
	delete(c.entries, keyID)
	c.mu.Unlock()
}

// ---------- redis ----------

// RedisKeyCache shares key lookups across instances. Redis errors degrade to
// cache misses; authentication then falls through to the database.
type RedisKeyCache struct {
	Client redis.Cmdable
	TTL    time.Duration
	Prefix string
}

// NewRedisKeyCache returns a cache using client with the default prefix.
func NewRedisKeyCache(client redis.Cmdable, ttl time.Duration) *RedisKeyCache {
	return &RedisKeyCache{Client: client, TTL: ttl, Prefix: "ucp:api_key:"}
}

// Get implements KeyCache.
func (c *RedisKeyCache) Get(ctx context.Context, keyID string) (*domain.APIKey, bool) {
	raw, err := c.Client.Get(ctx, c.Prefix+keyID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Msg("api key cache get failed")
		return nil, false
	}
	if raw == notFoundSentinel {
		return nil, true
	}
	var ck cachedKey
	if err := json.Unmarshal([]byte(raw), &ck); err != nil {
		return nil, false
	}
	return ck.key(), true
}

// Set implements KeyCache. A nil key stores the not_found sentinel.
func (c *RedisKeyCache) Set(ctx context.Context, keyID string, k *domain.APIKey) {
	val := notFoundSentinel
	if k != nil {
		b, err := json.Marshal(toCached(k))
		if err != nil {
			return
		}
		val = string(b)
	}
	if err := c.Client.Set(ctx, c.Prefix+keyID, val, c.TTL).Err(); err != nil {
		log.Warn().Err(err).Msg("api key cache set failed")
	}
}

// Delete implements KeyCache.
func (c *RedisKeyCache) Delete(ctx context.Context, keyID string) {
	if err := c.Client.Del(ctx, c.Prefix+keyID).Err(); err != nil {
		log.Warn().Err(err).Msg("api key cache delete failed")
	}
}

// NewRedisClient parses url and returns a client after a ping.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
