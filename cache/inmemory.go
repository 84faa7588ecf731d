package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     any
	expireAt  time.Time
	lockUntil time.Time
}

type inMemoryCache struct {
	cache map[string]*entry
	mutex sync.Mutex
	cfg   config
}

var _ Cache = (*inMemoryCache)(nil)

func (c *inMemoryCache) Fetch(_ context.Context, key string, ttl time.Duration) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.cache[key]
	if !ok {
		return false, nil, nil
	}
	now := c.cfg.clock()
	if e.expireAt.After(now) {
		return true, e.value, nil
	}
	// the caller holding the lock is presumed to be refreshing
	if e.lockUntil.After(now) {
		c.cfg.log.Trace("serving stale value for %s", key)
		return true, e.value, nil
	}
	e.lockUntil = now.Add(lockWindow(ttl))
	c.cfg.log.Trace("refresh of %s claimed until %s", key, e.lockUntil.Format(time.RFC3339Nano))
	return false, nil, nil
}

func (c *inMemoryCache) Store(_ context.Context, key string, val any, ttl time.Duration) error {
	c.mutex.Lock()
	c.cache[key] = &entry{value: val, expireAt: c.cfg.clock().Add(ttl)}
	c.mutex.Unlock()
	return nil
}

// Close is a no-op; the in-memory store owns no background resources.
func (c *inMemoryCache) Close() error {
	return nil
}

// NewInMemory returns a new in-memory Cache implementation. Values are stored
// as-is (no copying), so mutations to stored pointers are visible through the
// cache.
func NewInMemory(opts ...Option) Cache {
	return &inMemoryCache{
		cache: make(map[string]*entry),
		cfg:   applyOptions(opts),
	}
}
