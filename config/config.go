// Package config loads the settings of the ttlcache command from defaults, an
// optional YAML file and TTLCACHE_* environment variables, in that order.
package config

import (
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/agentuity/go-ttlcache/cache"
	"github.com/agentuity/go-ttlcache/hasher"
	"github.com/agentuity/go-ttlcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TTLCACHE_"

// Duration is a time.Duration that reads "30s", "1d2h" or "1w" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*d = Duration(v)
	return nil
}

// ParseDuration parses a duration that may use day and week units.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}
	if d < 0 {
		return 0, errors.Newf("negative duration %q", s)
	}
	return d, nil
}

// Config holds everything the command needs.
type Config struct {
	// Type is the cache backend: detect, redis or memory.
	Type         string   `yaml:"type"`
	RedisURL     string   `yaml:"redis_url"`
	Prefix       string   `yaml:"prefix"`
	TTL          Duration `yaml:"ttl"`
	QueryTimeout Duration `yaml:"query_timeout"`
	Retention    Duration `yaml:"retention"`
	LogLevel     string   `yaml:"log_level"`
	Addr         string   `yaml:"addr"`
	// Algorithm is the digest used for memoize keys: xxhash, md5 or sha256.
	Algorithm    string   `yaml:"algorithm"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Type:         cache.BackendDetect,
		Prefix:       "ttlcache",
		TTL:          Duration(cache.DefaultTTL),
		QueryTimeout: Duration(cache.DefaultQueryTimeout),
		LogLevel:     "info",
		Addr:         "127.0.0.1:8080",
		Algorithm:    hasher.XXHash.String(),
	}
}

// Load returns the defaults overlaid with the YAML file at path, when path is
// not empty, and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "reading config")
		}
		if err := cfg.decode(buf); err != nil {
			return cfg, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(buf []byte) error {
	expanded := Interpolate(string(buf), os.LookupEnv)
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"TYPE":      &c.Type,
		"REDIS_URL": &c.RedisURL,
		"PREFIX":    &c.Prefix,
		"LOG_LEVEL": &c.LogLevel,
		"ADDR":      &c.Addr,
		"ALGORITHM": &c.Algorithm,
	}
	for name, dst := range strs {
		if val, ok := lookup(EnvPrefix + name); ok {
			*dst = val
		}
	}
	durations := map[string]*Duration{
		"TTL":           &c.TTL,
		"QUERY_TIMEOUT": &c.QueryTimeout,
		"RETENTION":     &c.Retention,
	}
	for name, dst := range durations {
		val, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := ParseDuration(val)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, name)
		}
		*dst = Duration(d)
	}
	return nil
}

// Validate checks the fields that have a fixed set of values.
func (c Config) Validate() error {
	switch c.Type {
	case "", cache.BackendDetect:
	default:
		if !slices.Contains(cache.Backends(), c.Type) {
			return errors.Wrapf(cache.ErrUnknownBackend, "type %q", c.Type)
		}
	}
	if c.Type == cache.BackendRedis && c.RedisURL == "" {
		return errors.New("type redis requires redis_url")
	}
	if _, err := hasher.ParseAlgorithm(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// Level is the parsed LogLevel.
func (c Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel)
}

// HashAlgorithm is the parsed Algorithm. Validate rejects unknown names, so an
// unvalidated unknown name falls back to XXHash.
func (c Config) HashAlgorithm() hasher.Algorithm {
	a, err := hasher.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return hasher.XXHash
	}
	return a
}

// CacheConfig returns the cache.Config for cache.Open.
func (c Config) CacheConfig(log logger.Logger) cache.Config {
	return cache.Config{
		Type:         c.Type,
		RedisURL:     c.RedisURL,
		Prefix:       c.Prefix,
		QueryTimeout: time.Duration(c.QueryTimeout),
		Retention:    time.Duration(c.Retention),
		Logger:       log,
	}
}
