package notify

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers dedupe keys that were already queued.
type Deduper interface {
	// FirstSeen records key and reports whether it was new.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget drops key so a failed publish can be retried later.
	Forget(ctx context.Context, key string)
}

// RedisDeduper keeps keys in Redis with a TTL so every server instance
// shares one view.
type RedisDeduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper returns a deduper storing keys under "notify:dedupe:".
func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, prefix: "notify:dedupe:", ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) {
	_ = d.rdb.Del(ctx, d.prefix+key).Err()
}

// MemoryDeduper is the single-process fallback used when Redis is not
// configured.  The oldest keys are evicted once size is reached.
type MemoryDeduper struct {
	cache *lru.Cache
}

// NewMemoryDeduper returns a deduper holding at most size keys.
func NewMemoryDeduper(size int) (*MemoryDeduper, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryDeduper{cache: cache}, nil
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, key string) (bool, error) {
	ok, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return !ok, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, key string) {
	d.cache.Remove(key)
}
