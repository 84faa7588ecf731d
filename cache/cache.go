package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-ttlcache/hasher"
	"github.com/agentuity/go-ttlcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the contract shared by every backend.
//
// Fetch implements serve-stale-while-revalidate with a single refresher:
//   - no entry: found is false.
//   - fresh entry: found is true with the value.
//   - stale entry while another caller holds the refresh lock: found is true
//     with the stale value.
//   - stale entry with no lock: the lock is claimed for ttl/4 and found is
//     false. The caller is now expected to compute the value and Store it.
//
// The ttl given to Fetch only sizes the refresh lock; it does not need to
// match the ttl the entry was stored with.
type Cache interface {
	// Fetch looks up key. See the type documentation for the staleness rules.
	Fetch(ctx context.Context, key string, ttl time.Duration) (bool, any, error)
	// Store replaces the entry for key, marking it fresh for ttl and clearing
	// any refresh lock. A ttl <= 0 makes the entry stale immediately.
	Store(ctx context.Context, key string, val any, ttl time.Duration) error
	// Close releases backend resources. Entries are never removed by Close.
	Close() error
}

// Encoded is a msgpack payload returned by serialized backends such as Redis.
// Use Fetch[T] to decode it transparently.
type Encoded []byte

// DefaultTTL is the ttl used by helpers when none is given.
const DefaultTTL = 30 * time.Second

// DefaultQueryTimeout is the per-operation timeout for backends that perform
// I/O (Redis).
const DefaultQueryTimeout = 5 * time.Second

// ErrDecode is returned by Fetch[T] when a cached value cannot be turned into T.
var ErrDecode = errors.New("cache: cannot decode cached value")

// lockWindow returns how long a refresh claim lasts for ttl. Integer division
// truncates toward zero.
func lockWindow(ttl time.Duration) time.Duration {
	return ttl / 4
}

// config holds the resolved configuration for a cache implementation.
type config struct {
	clock        func() time.Time
	log          logger.Logger
	queryTimeout time.Duration
	prefix       string
	retention    time.Duration
	algorithm    hasher.Algorithm
	ownsClient   bool
}

// Option configures a Cache implementation or a Memoizer.
type Option func(*config)

func defaultConfig() config {
	return config{
		clock:        time.Now,
		log:          logger.NewNopLogger(),
		queryTimeout: DefaultQueryTimeout,
		algorithm:    hasher.XXHash,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithClock replaces time.Now as the time source. Mostly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches.
// Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithRetention lets the Redis backend reclaim a key once it has been stale
// for longer than d. Zero, the default, keeps entries until overwritten.
func WithRetention(d time.Duration) Option {
	return func(c *config) { c.retention = d }
}

// WithAlgorithm sets the digest algorithm the Memoizer uses for keys.
func WithAlgorithm(a hasher.Algorithm) Option {
	return func(c *config) { c.algorithm = a }
}

func withOwnedClient() Option {
	return func(c *config) { c.ownsClient = true }
}

// Fetch retrieves a typed value from the cache. In-memory values are type
// asserted; Encoded values from serialized backends are decoded with msgpack.
func Fetch[T any](ctx context.Context, c Cache, key string, ttl time.Duration) (bool, T, error) {
	var zero T
	found, val, err := c.Fetch(ctx, key, ttl)
	if !found || err != nil {
		return false, zero, err
	}
	v, err := decode[T](val)
	if err != nil {
		return false, zero, err
	}
	return true, v, nil
}

func decode[T any](val any) (T, error) {
	var zero T
	switch v := val.(type) {
	case Encoded:
		var result T
		if err := msgpack.Unmarshal(v, &result); err != nil {
			return zero, errors.Wrap(ErrDecode, err.Error())
		}
		return result, nil
	case T:
		return v, nil
	case nil:
		return zero, nil
	}
	return zero, errors.Wrapf(ErrDecode, "value of type %T is not %T", val, zero)
}
