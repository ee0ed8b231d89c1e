package providers

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/i474232898/weather-places/internal/observability"
	"github.com/i474232898/weather-places/internal/weather"
)

const defaultResolverCacheSize = 256

// CachedResolver wraps a Resolver with an LRU cache. Only successful
// resolutions are cached, so failures are retried on the next call.
type CachedResolver struct {
	inner   weather.Resolver
	cache   *lru.Cache[string, weather.Geolocation]
	metrics *observability.Metrics
}

var _ weather.Resolver = (*CachedResolver)(nil)

// NewCachedResolver creates a cache decorator holding up to size entries.
// metrics may be nil.
func NewCachedResolver(inner weather.Resolver, size int, metrics *observability.Metrics) (*CachedResolver, error) {
	if size <= 0 {
		size = defaultResolverCacheSize
	}
	cache, err := lru.New[string, weather.Geolocation](size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedResolver) Resolve(ctx context.Context, city, country string) (weather.Geolocation, error) {
	key := weather.Geolocation{City: city, Country: country}.Key()
	if geo, ok := c.cache.Get(key); ok {
		c.count("hit")
		return geo, nil
	}
	c.count("miss")

	geo, err := c.inner.Resolve(ctx, city, country)
	if err != nil {
		return geo, err
	}
	if strings.TrimSpace(geo.City) != "" {
		c.cache.Add(key, geo)
	}
	return geo, nil
}

// Len returns the number of cached entries.
func (c *CachedResolver) Len() int {
	return c.cache.Len()
}

func (c *CachedResolver) count(result string) {
	if c.metrics != nil {
		c.metrics.ResolverCache.WithLabelValues(result).Inc()
	}
}
