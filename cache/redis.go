package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Each key is a hash with fields "v" (msgpack value), "e" (expiry) and "l"
// (refresh lock), both times in unix microseconds. ARGV[1] is now and ARGV[2]
// is the lock deadline to claim.
//
// Returns {0} on miss, {1, v} when fresh, {2, v} when stale and locked by
// someone else and {3} when this call claimed the refresh.
var fetchScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'v', 'e', 'l')
if not h[1] then
  return {0}
end
local now = tonumber(ARGV[1])
if tonumber(h[2] or '0') > now then
  return {1, h[1]}
end
if tonumber(h[3] or '0') > now then
  return {2, h[1]}
end
redis.call('HSET', KEYS[1], 'l', ARGV[2])
return {3}
`)

type redisCache struct {
	client *redis.Client
	cfg    config
}

var _ Cache = (*redisCache)(nil)

// NewRedis returns a new Cache backed by Redis. The read-check-claim step of
// Fetch runs as a single Lua script so concurrent callers on any number of
// processes see at most one claim per refresh window.
// The caller owns the redis.Client lifecycle; Close is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Cache {
	return &redisCache{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func (c *redisCache) Fetch(ctx context.Context, key string, ttl time.Duration) (bool, any, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	now := c.cfg.clock()
	res, err := fetchScript.Run(qctx, c.client, []string{c.prefixKey(key)}, micros(now), micros(now.Add(lockWindow(ttl)))).Slice()
	if err != nil {
		return false, nil, errors.Wrapf(err, "cache: redis fetch %s", key)
	}
	if len(res) < 2 {
		if len(res) == 1 && res[0] == int64(3) {
			c.cfg.log.Trace("refresh of %s claimed for %s", key, lockWindow(ttl))
		}
		return false, nil, nil
	}
	data, ok := res[1].(string)
	if !ok {
		return false, nil, errors.Newf("cache: unexpected redis value type %T for %s", res[1], key)
	}
	if res[0] == int64(2) {
		c.cfg.log.Trace("serving stale value for %s", key)
	}
	return true, Encoded(data), nil
}

func (c *redisCache) Store(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "cache: encode %s", key)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k := c.prefixKey(key)
	pipe := c.client.TxPipeline()
	pipe.HSet(qctx, k, "v", data, "e", micros(c.cfg.clock().Add(ttl)), "l", "0")
	if c.cfg.retention > 0 {
		pipe.PExpire(qctx, k, max(ttl, 0)+c.cfg.retention)
	} else {
		pipe.Persist(qctx, k)
	}
	if _, err := pipe.Exec(qctx); err != nil {
		return errors.Wrapf(err, "cache: redis store %s", key)
	}
	return nil
}

// Close closes the client only when it was created by Open.
func (c *redisCache) Close() error {
	if c.cfg.ownsClient {
		return c.client.Close()
	}
	return nil
}
