package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/iliyamo/auction-house/internal/config"
)

const defaultCacheTTL = 15 * time.Second

// cachedResponse is what a cache entry holds in Redis.
type cachedResponse struct {
    Status      int    `json:"s"`
    ContentType string `json:"ct,omitempty"`
    Body        []byte `json:"b"`
}

// recorder tees the response into a bounded buffer.  Once the body grows
// past max the entry is marked oversized and will not be stored.
type recorder struct {
    http.ResponseWriter
    status    int
    body      bytes.Buffer
    max       int
    oversized bool
}

func (r *recorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
    if !r.oversized {
        if r.max > 0 && r.body.Len()+len(b) > r.max {
            r.oversized = true
            r.body.Reset()
        } else {
            r.body.Write(b)
        }
    }
    return r.ResponseWriter.Write(b)
}

// cacheKeyFrom keys an entry by the concrete request path plus a hash of
// the query string, so InvalidatePath can drop every variant of one path.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
    u := c.Request().URL
    sum := sha1.Sum([]byte(u.RawQuery))
    return fmt.Sprintf("%s:%s:%x", cfg.Prefix, u.Path, sum[:8])
}

// InvalidatePath removes every cached response for path.  Errors are
// logged; a stale entry only lives until its TTL.
func InvalidatePath(ctx context.Context, cfg config.CacheConfig, rdb *redis.Client, path string) {
    if !cfg.Enabled || rdb == nil {
        return
    }
    var keys []string
    iter := rdb.Scan(ctx, 0, cfg.Prefix+":"+path+":*", 100).Iterator()
    for iter.Next(ctx) {
        keys = append(keys, iter.Val())
    }
    if err := iter.Err(); err != nil {
        zap.L().Warn("cache: scan failed", zap.String("path", path), zap.Error(err))
        return
    }
    if len(keys) == 0 {
        return
    }
    if err := rdb.Del(ctx, keys...).Err(); err != nil {
        zap.L().Warn("cache: invalidate failed", zap.String("path", path), zap.Error(err))
    }
}

// NewRedisCache serves 200 responses for the configured methods out of
// Redis for cfg.TTL.  Responses carry X-Cache: HIT or MISS.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = defaultCacheTTL
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            ctx := c.Request().Context()
            key := cacheKeyFrom(cfg, c)

            if hit, ok := loadCached(ctx, rdb, key); ok {
                c.Response().Header().Set("X-Cache", "HIT")
                if hit.ContentType == "" {
                    hit.ContentType = echo.MIMEApplicationJSON
                }
                return c.Blob(hit.Status, hit.ContentType, hit.Body)
            }

            rec := &recorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if rec.status != http.StatusOK || rec.oversized {
                return nil
            }

            raw, err := json.Marshal(cachedResponse{
                Status:      rec.status,
                ContentType: c.Response().Header().Get(echo.HeaderContentType),
                Body:        rec.body.Bytes(),
            })
            if err != nil {
                return nil
            }
            if err := rdb.Set(context.WithoutCancel(ctx), key, raw, ttl).Err(); err != nil {
                zap.L().Debug("cache: store failed", zap.String("key", key), zap.Error(err))
            }
            return nil
        }
    }
}

func loadCached(ctx context.Context, rdb *redis.Client, key string) (cachedResponse, bool) {
    var hit cachedResponse
    raw, err := rdb.Get(ctx, key).Bytes()
    if err != nil {
        if !errors.Is(err, redis.Nil) {
            zap.L().Debug("cache: lookup failed", zap.String("key", key), zap.Error(err))
        }
        return hit, false
    }
    if err := json.Unmarshal(raw, &hit); err != nil || hit.Status == 0 {
        return hit, false
    }
    return hit, true
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc {
    return next
}
