package localcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache is the single-process fallback used when no redis address is
// configured. Values are copied on the way in and out.
type LocalCache struct {
	c *gocache.Cache
}

func New(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{c: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (l *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (l *LocalCache) Delete(ctx context.Context, key string) error {
	l.c.Delete(key)
	return nil
}
