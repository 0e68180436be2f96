package cachedresolver

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccutchen/hrefresolver"
)

const (
	redisCacheVersion = "1"
	tracerName        = "github.com/mccutchen/hrefresolver/cachedresolver"
)

// Cache is a generic cache interface.
type Cache interface {
	Add(ctx context.Context, key string, value hrefresolver.Resource)
	Get(ctx context.Context, key string) (value hrefresolver.Resource, ok bool)
	Name() string
}

// RedisCache caches resources in redis, in an in-process TinyLFU cache, or
// in both, depending on how the underlying cache was built.
type RedisCache struct {
	cache *cache.Cache
	ttl   time.Duration
	name  string
}

var _ Cache = &RedisCache{} // RedisCache implements Cache

// NewRedisCache creates a new RedisCache whose entries will expire after the
// given TTL.
func NewRedisCache(cache *cache.Cache, ttl time.Duration) *RedisCache {
	return &RedisCache{
		cache: cache,
		ttl:   ttl,
		name:  "redis",
	}
}

// NewLocalCache creates an in-process cache holding at most size entries,
// each expiring after ttl. It needs no redis server.
func NewLocalCache(size int, ttl time.Duration) *RedisCache {
	return &RedisCache{
		cache: cache.New(&cache.Options{
			LocalCache: cache.NewTinyLFU(size, ttl),
		}),
		ttl:  ttl,
		name: "tinylfu",
	}
}

// Add adds a Resource to the cache.
func (c *RedisCache) Add(ctx context.Context, key string, value hrefresolver.Resource) {
	ctx, span := c.startSpan(ctx, "cache.add", key)
	defer span.End()

	err := c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(key),
		Value: value,
		TTL:   c.ttl,
	})
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
	}
}

// Get gets a Resource from the cache, returning a bool indicating whether it
// was present.
func (c *RedisCache) Get(ctx context.Context, key string) (hrefresolver.Resource, bool) {
	ctx, span := c.startSpan(ctx, "cache.get", key)
	defer span.End()

	var res hrefresolver.Resource
	if err := c.cache.Get(ctx, redisCacheKey(key), &res); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			span.SetAttributes(attribute.String("error", err.Error()))
		}
		return hrefresolver.Resource{}, false
	}
	return res, true
}

// Name returns the name of the cache, for instrumentation purposes.
func (c *RedisCache) Name() string {
	return c.name
}

func (c *RedisCache) startSpan(ctx context.Context, name string, key string) (context.Context, trace.Span) {
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("cache.name", c.Name()),
		attribute.String("cache.key", key),
	))
}

func redisCacheKey(key string) string {
	return fmt.Sprintf("cache:%s:%x", redisCacheVersion, sha256.Sum256([]byte(key)))
}
