package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/agentuity/go-ttlcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Backend names understood by Open.
const (
	BackendDetect = "detect"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var (
	// ErrUnknownBackend is returned by Open for a backend name that was never registered.
	ErrUnknownBackend = errors.New("cache: unknown backend")
	// ErrBackendUnavailable is returned by Open when an explicitly requested backend cannot be reached.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")
	// ErrNotConfigured is returned by an Opener when cfg does not set up its
	// backend at all. Detection skips such backends quietly.
	ErrNotConfigured = errors.New("cache: backend not configured")
)

// Config selects and configures a backend for Open.
type Config struct {
	// Type is BackendDetect, or the name of a registered backend. Empty means detect.
	Type string
	// RedisURL is a redis:// or rediss:// URL. Redis is skipped by detection when empty.
	RedisURL string
	// Prefix namespaces keys on shared backends.
	Prefix string
	// QueryTimeout bounds every backend round trip, including the detection probe.
	QueryTimeout time.Duration
	// Retention lets shared backends reclaim long-stale entries. Zero keeps them.
	Retention time.Duration
	// Logger receives selection and cache diagnostics.
	Logger logger.Logger
	// Options are appended to the options derived from the fields above.
	Options []Option
}

func (c Config) options() []Option {
	opts := []Option{WithLogger(c.Logger), WithPrefix(c.Prefix), WithRetention(c.Retention)}
	if c.QueryTimeout > 0 {
		opts = append(opts, WithQueryTimeout(c.QueryTimeout))
	}
	return append(opts, c.Options...)
}

func (c Config) queryTimeout() time.Duration {
	if c.QueryTimeout > 0 {
		return c.QueryTimeout
	}
	return DefaultQueryTimeout
}

// Opener constructs a backend. A returned error means the backend is not
// available with the given configuration.
type Opener func(ctx context.Context, cfg Config) (Cache, error)

var registry = struct {
	sync.RWMutex
	openers map[string]Opener
	order   []string
}{
	openers: map[string]Opener{},
}

// Register makes a backend available to Open under name. Detection tries
// backends in registration order, except that the in-memory backend is always
// tried last. Registering an existing name replaces its opener.
func Register(name string, open Opener) {
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.openers[name]; !ok {
		registry.order = append(registry.order, name)
		if i := slices.Index(registry.order, BackendMemory); i >= 0 && name != BackendMemory {
			registry.order = append(slices.Delete(registry.order, i, i+1), BackendMemory)
		}
	}
	registry.openers[name] = open
}

// Backends returns the registered backend names in detection order.
func Backends() []string {
	registry.RLock()
	defer registry.RUnlock()
	return slices.Clone(registry.order)
}

func opener(name string) (Opener, bool) {
	registry.RLock()
	defer registry.RUnlock()
	open, ok := registry.openers[name]
	return open, ok
}

// Open returns the Cache selected by cfg.Type. With BackendDetect every
// registered backend is probed once, in order, and the first one available is
// returned; the in-memory backend is always available, so detection never
// fails. An explicitly named backend that cannot be opened is an error.
func Open(ctx context.Context, cfg Config) (Cache, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Type == "" || cfg.Type == BackendDetect {
		for _, name := range Backends() {
			open, _ := opener(name)
			c, err := open(ctx, cfg)
			if errors.Is(err, ErrNotConfigured) {
				log.Debug("cache backend %s not configured", name)
				continue
			}
			if err != nil {
				log.Warn("cache backend %s not available: %s", name, err)
				continue
			}
			log.Info("using %s cache backend", name)
			return c, nil
		}
		return NewInMemory(cfg.options()...), nil
	}
	open, ok := opener(cfg.Type)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Type)
	}
	c, err := open(ctx, cfg)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "cache: open %s", cfg.Type), ErrBackendUnavailable)
	}
	return c, nil
}

func openMemory(_ context.Context, cfg Config) (Cache, error) {
	return NewInMemory(cfg.options()...), nil
}

// openRedis parses the URL and pings the server once. There is no retry.
func openRedis(ctx context.Context, cfg Config) (Cache, error) {
	if cfg.RedisURL == "" {
		return nil, errors.Wrap(ErrNotConfigured, "no redis url")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, cfg.queryTimeout())
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedis(client, append(cfg.options(), withOwnedClient())...), nil
}

func init() {
	Register(BackendRedis, openRedis)
	Register(BackendMemory, openMemory)
}
