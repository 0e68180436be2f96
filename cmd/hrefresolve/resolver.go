package main

import (
	"context"
	"fmt"
	"maps"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/cache/v8"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccutchen/hrefresolver"
	"github.com/mccutchen/hrefresolver/cachedresolver"
	"github.com/mccutchen/hrefresolver/config"
	"github.com/mccutchen/hrefresolver/headertransport"
	"github.com/mccutchen/hrefresolver/safedialer"
	"github.com/mccutchen/hrefresolver/telemetry"
)

const (
	// dialer
	dialTimeout = 2 * time.Second

	// transport
	transportIdleConnTimeout     = 90 * time.Second
	transportMaxIdleConnsPerHost = 100
	transportTLSHandshakeTimeout = 2 * time.Second
)

// initResolver assembles the resolver stack described by cfg: an HTTP
// resolver, optionally retried, coalesced, and optionally cached. The
// returned func releases the cache's redis connection, if any.
func initResolver(cfg *config.Config, tp trace.TracerProvider, logger zerolog.Logger) (hrefresolver.Interface, func(context.Context) error, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	if cfg.Resolver.UnsafeDial {
		logger.Warn().Msg("unsafe_dial enabled, hrefs may reach private networks")
	} else {
		dialer = safedialer.New(*dialer)
	}

	transport := telemetry.WrapTransport(&http.Transport{
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		IdleConnTimeout:     transportIdleConnTimeout,
		MaxIdleConnsPerHost: transportMaxIdleConnsPerHost,
		MaxIdleConns:        transportMaxIdleConnsPerHost * 2,
		TLSHandshakeTimeout: transportTLSHandshakeTimeout,
	}, tp)

	opts := []hrefresolver.Option{
		hrefresolver.WithTimeout(cfg.Resolver.Timeout),
		hrefresolver.WithMaxBodySize(cfg.Resolver.MaxBodySize.Int64()),
		hrefresolver.WithMaxRedirects(cfg.Resolver.MaxRedirects),
		hrefresolver.WithLogger(logger),
	}
	if cfg.Resolver.UserAgent != "" {
		headers := maps.Clone(headertransport.DefaultHeaders)
		headers["User-Agent"] = cfg.Resolver.UserAgent
		opts = append(opts, hrefresolver.WithHeaders(headers))
	}

	var r hrefresolver.Interface = hrefresolver.New(transport, opts...)
	if cfg.Resolver.Retries > 0 {
		r = hrefresolver.NewRetryResolver(r, cfg.Resolver.Retries, 0, logger)
	}
	r = hrefresolver.NewSingleflightResolver(r)

	c, closeCache, err := initCache(cfg.Cache, tp, logger)
	if err != nil {
		return nil, nil, err
	}
	if c != nil {
		r = cachedresolver.NewCachedResolver(r, c)
	}
	return r, closeCache, nil
}

func initCache(cfg config.CacheConfig, tp trace.TracerProvider, logger zerolog.Logger) (cachedresolver.Cache, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled() {
		logger.Info().Msg("set cache.redis_url or cache.local_size to enable caching")
		return nil, noop, nil
	}

	if cfg.RedisURL == "" {
		logger.Info().Int("size", cfg.LocalSize).Dur("ttl", cfg.TTL).Msg("caching in process")
		return cachedresolver.NewLocalCache(cfg.LocalSize, cfg.TTL), noop, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cache.redis_url: %w", err)
	}
	client := redis.NewClient(opt)
	client.AddHook(redisotel.NewTracingHook(redisotel.WithTracerProvider(tp)))

	cacheOpts := &cache.Options{Redis: client}
	if cfg.LocalSize > 0 {
		cacheOpts.LocalCache = cache.NewTinyLFU(cfg.LocalSize, cfg.TTL)
	}

	logger.Info().Str("addr", opt.Addr).Dur("ttl", cfg.TTL).Msg("caching in redis")
	closeRedis := func(context.Context) error { return client.Close() }
	return cachedresolver.NewRedisCache(cache.New(cacheOpts), cfg.TTL), closeRedis, nil
}
