// Package cachedresolver provides a resolver that remembers the resources it
// has already fetched.
package cachedresolver

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccutchen/hrefresolver"
)

// CachedResolver is a resolver implementation that caches its results.
// Only successful resolves are cached.
type CachedResolver struct {
	cache    Cache
	resolver hrefresolver.Interface
}

var _ hrefresolver.Interface = &CachedResolver{} // CachedResolver implements hrefresolver.Interface

// NewCachedResolver creates a new CachedResolver.
func NewCachedResolver(resolver hrefresolver.Interface, cache Cache) *CachedResolver {
	return &CachedResolver{
		cache:    cache,
		resolver: resolver,
	}
}

// IsTarget delegates to the wrapped resolver.
func (c *CachedResolver) IsTarget(href string) bool {
	return c.resolver.IsTarget(href)
}

// Resolve resolves an href if it is not already cached.
func (c *CachedResolver) Resolve(ctx context.Context, href string) (hrefresolver.Resource, error) {
	if !c.resolver.IsTarget(href) {
		return c.resolver.Resolve(ctx, href)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("resolver.cache_name", c.cache.Name()))

	key := hrefresolver.Canonicalize(href)
	if res, ok := c.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.String("resolver.cache_result", "hit"))
		return res, nil
	}

	res, err := c.resolver.Resolve(ctx, href)
	if err == nil {
		c.cache.Add(ctx, key, res)
	}

	span.SetAttributes(attribute.String("resolver.cache_result", "miss"))
	return res, err
}
