package httpcache

import (
	"context"
	"strings"
	"time"

	"github.com/agentuity/go-ttlcache/cache"
	"github.com/agentuity/go-ttlcache/logger"
	"github.com/vmihailenco/msgpack/v5"
)

// HeaderName is the diagnostic header set on every cached cycle.
const HeaderName = "X-Cache"

const (
	headerHit  = HeaderName + ": HIT"
	headerMiss = HeaderName + ": MISS"
)

// Cycle is what the request cache needs from the host to inspect and produce
// a response.
type Cycle interface {
	// Status returns the response status code as currently set.
	Status() int
	// SetStatus sets the response status code.
	SetStatus(code int)
	// Headers returns every response header set so far as "Name: value" lines.
	Headers() []string
	// EmitHeader sets a response header from a "Name: value" line, replacing
	// any value set for Name before this cycle emitted it.
	EmitHeader(line string)
	// EmitBody writes body as the complete response.
	EmitBody(body []byte) error
	// OnFinalize registers hook to run exactly once, with the complete body,
	// right before the response is flushed.
	OnFinalize(hook func(body []byte))
}

// response is the bundle stored for a cycle.
type response struct {
	Code    int      `msgpack:"code"`
	Headers []string `msgpack:"headers"`
	Body    []byte   `msgpack:"body"`
}

func (r response) encode() ([]byte, error) {
	return msgpack.Marshal(r)
}

func decodeResponse(buf []byte) (response, error) {
	var r response
	err := msgpack.Unmarshal(buf, &r)
	return r, err
}

// Cacheable reports whether a response with code may be stored.
func Cacheable(code int) bool {
	return code >= 200 && code < 400
}

// RequestCache caches whole responses by an opaque key. It owns no state
// besides the cache it writes to.
type RequestCache struct {
	cache cache.Cache
	log   logger.Logger
}

// Option configures a RequestCache.
type Option func(*RequestCache)

// WithLogger sets the logger used for request cache diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(rc *RequestCache) {
		if log != nil {
			rc.log = log
		}
	}
}

// New returns a RequestCache storing responses in c.
func New(c cache.Cache, opts ...Option) *RequestCache {
	rc := &RequestCache{cache: c, log: logger.NewNopLogger()}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Handle runs the cache state machine for one cycle.
//
// On a hit the stored status, headers and body are replayed followed by
// "X-Cache: HIT", and Handle returns true: the host must not run the
// application for this cycle.
//
// On a miss "X-Cache: MISS" is emitted and a finalize hook is registered that
// stores the final response if its status is 2xx or 3xx. Handle returns false
// and the host runs the application as usual.
//
// Cache failures are logged and otherwise behave like a miss or a skipped store.
func (rc *RequestCache) Handle(ctx context.Context, cycle Cycle, key string, ttl time.Duration) bool {
	found, buf, err := cache.Fetch[[]byte](ctx, rc.cache, key, ttl)
	if err != nil {
		rc.log.Warn("request cache fetch of %s failed: %s", key, err)
	}
	if found {
		resp, err := decodeResponse(buf)
		if err == nil {
			rc.replay(cycle, key, resp)
			return true
		}
		rc.log.Warn("discarding unreadable response cached for %s: %s", key, err)
	}

	cycle.EmitHeader(headerMiss)
	cycle.OnFinalize(func(body []byte) {
		rc.capture(ctx, cycle, key, ttl, body)
	})
	return false
}

func (rc *RequestCache) replay(cycle Cycle, key string, resp response) {
	cycle.SetStatus(resp.Code)
	for _, line := range resp.Headers {
		cycle.EmitHeader(line)
	}
	cycle.EmitHeader(headerHit)
	if err := cycle.EmitBody(resp.Body); err != nil {
		rc.log.Debug("writing cached response for %s: %s", key, err)
	}
	rc.log.Trace("served %s from cache", key)
}

func (rc *RequestCache) capture(ctx context.Context, cycle Cycle, key string, ttl time.Duration, body []byte) {
	code := cycle.Status()
	if !Cacheable(code) {
		rc.log.Trace("not caching %s: status %d", key, code)
		return
	}
	resp := response{
		Code:    code,
		Headers: withoutDiagnostic(cycle.Headers()),
		Body:    append([]byte(nil), body...),
	}
	buf, err := resp.encode()
	if err != nil {
		rc.log.Warn("encoding response for %s: %s", key, err)
		return
	}
	if err := rc.cache.Store(ctx, key, buf, ttl); err != nil {
		rc.log.Warn("request cache store of %s failed: %s", key, err)
		return
	}
	rc.log.Trace("cached %s with status %d", key, code)
}

func withoutDiagnostic(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if name, _, _ := strings.Cut(line, ":"); strings.EqualFold(strings.TrimSpace(name), HeaderName) {
			continue
		}
		out = append(out, line)
	}
	return out
}
