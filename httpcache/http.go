package httpcache

import (
	"bytes"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agentuity/go-ttlcache/hasher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/agentuity/go-ttlcache/httpcache")

// KeyFunc returns the cache key for r, or false when r must bypass the cache.
// Keys must separate every request that can produce a different response:
// fold in whatever identifies the user when responses are personalised.
type KeyFunc func(r *http.Request) (string, bool)

// DefaultKey caches GET and HEAD requests by method and full URL.
func DefaultKey(r *http.Request) (string, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return "", false
	}
	digest, ok := hasher.Digest(r.Method + " " + r.Host + r.URL.RequestURI())
	if !ok {
		return "", false
	}
	return "httpcache:" + digest, true
}

// Middleware caches the responses of next in rc. A miss buffers the response
// until next returns, so it is not suitable for streaming handlers.
func Middleware(rc *RequestCache, key KeyFunc, ttl time.Duration) func(http.Handler) http.Handler {
	if key == nil {
		key = DefaultKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "httpcache.request", trace.WithSpanKind(trace.SpanKindInternal))
			defer span.End()

			k, ok := key(r)
			if !ok {
				span.SetAttributes(attribute.String("cache.status", "bypass"))
				next.ServeHTTP(w, r)
				return
			}
			cycle := newResponseCycle(w)
			if rc.Handle(ctx, cycle, k, ttl) {
				span.SetAttributes(attribute.String("cache.status", "hit"))
				return
			}
			span.SetAttributes(attribute.String("cache.status", "miss"))
			next.ServeHTTP(cycle, r.WithContext(ctx))
			if err := cycle.finalize(); err != nil {
				rc.log.Debug("writing response for %s: %s", k, err)
			}
		})
	}
}

// responseCycle adapts an http.ResponseWriter to Cycle. The application
// writes into a buffer; finalize runs the hooks and flushes the buffer.
type responseCycle struct {
	w       http.ResponseWriter
	status  int
	body    bytes.Buffer
	emitted map[string]bool
	hooks   []func([]byte)
	once    sync.Once
}

var (
	_ Cycle               = (*responseCycle)(nil)
	_ http.ResponseWriter = (*responseCycle)(nil)
)

func newResponseCycle(w http.ResponseWriter) *responseCycle {
	return &responseCycle{w: w, emitted: map[string]bool{}}
}

func (c *responseCycle) Status() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCycle) SetStatus(code int) {
	c.status = code
}

func (c *responseCycle) Headers() []string {
	h := c.w.Header()
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)
	var lines []string
	for _, name := range names {
		for _, v := range h[name] {
			lines = append(lines, name+": "+v)
		}
	}
	return lines
}

func (c *responseCycle) EmitHeader(line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	name = http.CanonicalHeaderKey(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	if c.emitted[name] {
		c.w.Header().Add(name, value)
		return
	}
	c.emitted[name] = true
	c.w.Header().Set(name, value)
}

func (c *responseCycle) EmitBody(body []byte) error {
	c.w.WriteHeader(c.Status())
	_, err := c.w.Write(body)
	return err
}

func (c *responseCycle) OnFinalize(hook func(body []byte)) {
	c.hooks = append(c.hooks, hook)
}

func (c *responseCycle) Header() http.Header {
	return c.w.Header()
}

func (c *responseCycle) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
}

func (c *responseCycle) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *responseCycle) finalize() error {
	var err error
	c.once.Do(func() {
		body := c.body.Bytes()
		if h := c.w.Header(); h.Get("Content-Type") == "" && len(body) > 0 {
			h.Set("Content-Type", http.DetectContentType(body))
		}
		for _, hook := range c.hooks {
			hook(body)
		}
		err = c.EmitBody(body)
	})
	return err
}
