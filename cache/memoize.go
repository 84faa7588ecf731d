package cache

import (
	"context"
	"reflect"
	"time"

	"github.com/agentuity/go-ttlcache/hasher"
	"github.com/vmihailenco/msgpack/v5"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Memoizer caches the results of function calls in a Cache. The key of a call
// is the digest of the function concatenated with the digest of its
// arguments.
//
// Results are looked up with an explicit presence flag, so zero values such as
// 0, "" or false are cached like any other result. Calls that return a non-nil
// error are never cached. A failing cache never fails the call: lookup and
// store errors are logged and the function runs uncached.
//
// Only top-level functions and method expressions have a digest of their
// own. Closures, method values and instantiated generic functions share code
// with func values that behave differently, so they always run uncached.
// Wrap them with Named, or use MemoizeNamed, to cache them under an explicit
// name.
type Memoizer struct {
	cache Cache
	cfg   config
}

// NewMemoizer returns a Memoizer storing results in c.
func NewMemoizer(c Cache, opts ...Option) *Memoizer {
	return &Memoizer{cache: c, cfg: applyOptions(opts)}
}

// Memoize is a shortcut for NewMemoizer(c).Call(ctx, fn, args, ttl).
func Memoize(ctx context.Context, c Cache, fn any, args []any, ttl time.Duration) (any, error) {
	return NewMemoizer(c).Call(ctx, fn, args, ttl)
}

// NamedFunc is a func that memoizes under Name instead of its own identity.
type NamedFunc struct {
	Name string
	Fn   any
}

// Named gives fn an explicit identity for Memoizer.Call. The caller vouches
// that every func memoized under name computes the same results for the same
// arguments, including through whatever state fn captures.
func Named(name string, fn any) NamedFunc {
	return NamedFunc{Name: name, Fn: fn}
}

func (m *Memoizer) identity(fn any) (string, bool) {
	if nf, ok := fn.(NamedFunc); ok {
		return hasher.Digest("memoize:"+nf.Name, m.cfg.algorithm)
	}
	return hasher.Digest(fn, m.cfg.algorithm)
}

// Key returns the cache key for calling fn with args. It reports false when
// either cannot be digested.
func (m *Memoizer) Key(fn any, args any) (string, bool) {
	fnDigest, ok := m.identity(fn)
	if !ok {
		return "", false
	}
	argsDigest, ok := hasher.Digest(args, m.cfg.algorithm)
	if !ok {
		return "", false
	}
	return fnDigest + argsDigest, true
}

// Call invokes fn with args through the cache.
//
// fn may be any func or a NamedFunc. When fn cannot be called with args, nil
// and non-func values included, Call returns (nil, nil) without touching the
// cache. If the last result of
// fn is an error, it is returned as the error. The remaining results are
// returned as nil (none), the value itself (one) or an []any (several).
func (m *Memoizer) Call(ctx context.Context, fn any, args []any, ttl time.Duration) (any, error) {
	call := fn
	if nf, ok := fn.(NamedFunc); ok {
		call = nf.Fn
	}
	fv := reflect.ValueOf(call)
	in, ok := invocation(fv, args)
	if !ok {
		m.cfg.log.Debug("memoize: %T is not invokable with %d argument(s)", call, len(args))
		return nil, nil
	}
	key, ok := m.Key(fn, args)
	if !ok {
		m.cfg.log.Debug("memoize: no stable key for %T, calling uncached", call)
		return results(fv.Type(), fv.Call(in))
	}
	found, val, err := m.cache.Fetch(ctx, key, ttl)
	switch {
	case err != nil:
		m.cfg.log.Warn("memoize: fetch of %s failed: %s", key, err)
	case found:
		if res, ok := decodeResult(fv.Type(), val); ok {
			return res, nil
		}
		m.cfg.log.Warn("memoize: cached value for %s has type %T, recomputing", key, val)
	}
	res, err := results(fv.Type(), fv.Call(in))
	if err != nil {
		return res, err
	}
	if err := m.cache.Store(ctx, key, res, ttl); err != nil {
		m.cfg.log.Warn("memoize: store of %s failed: %s", key, err)
	}
	return res, nil
}

// MemoizeFunc is the typed form of Memoizer.Call for the common
// func(ctx, args) (R, error) shape.
func MemoizeFunc[A, R any](ctx context.Context, m *Memoizer, fn func(context.Context, A) (R, error), args A, ttl time.Duration) (R, error) {
	return memoizeTyped(ctx, m, fn, fn, args, ttl)
}

// MemoizeNamed is MemoizeFunc with fn cached under name, as with Named.
func MemoizeNamed[A, R any](ctx context.Context, m *Memoizer, name string, fn func(context.Context, A) (R, error), args A, ttl time.Duration) (R, error) {
	return memoizeTyped(ctx, m, Named(name, fn), fn, args, ttl)
}

func memoizeTyped[A, R any](ctx context.Context, m *Memoizer, id any, fn func(context.Context, A) (R, error), args A, ttl time.Duration) (R, error) {
	if fn == nil {
		var zero R
		return zero, nil
	}
	key, ok := m.Key(id, args)
	if !ok {
		m.cfg.log.Debug("memoize: no stable key for %T, calling uncached", fn)
		return fn(ctx, args)
	}
	found, val, err := Fetch[R](ctx, m.cache, key, ttl)
	switch {
	case err != nil:
		m.cfg.log.Warn("memoize: fetch of %s failed: %s", key, err)
	case found:
		return val, nil
	}
	res, err := fn(ctx, args)
	if err != nil {
		return res, err
	}
	if err := m.cache.Store(ctx, key, res, ttl); err != nil {
		m.cfg.log.Warn("memoize: store of %s failed: %s", key, err)
	}
	return res, nil
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
		return true
	}
	return false
}

// invocation converts args into call arguments for fv, reporting false when
// fv is not a func or the arguments do not fit its signature.
func invocation(fv reflect.Value, args []any) ([]reflect.Value, bool) {
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, false
	}
	t := fv.Type()
	n := t.NumIn()
	if t.IsVariadic() {
		if len(args) < n-1 {
			return nil, false
		}
	} else if len(args) != n {
		return nil, false
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var want reflect.Type
		if t.IsVariadic() && i >= n-1 {
			want = t.In(n - 1).Elem()
		} else {
			want = t.In(i)
		}
		if arg == nil {
			if !nillable(want.Kind()) {
				return nil, false
			}
			in[i] = reflect.Zero(want)
			continue
		}
		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(want) {
			return nil, false
		}
		in[i] = av
	}
	return in, true
}

func valueTypes(t reflect.Type) []reflect.Type {
	n := t.NumOut()
	if n > 0 && t.Out(n-1) == errorType {
		n--
	}
	out := make([]reflect.Type, n)
	for i := range out {
		out[i] = t.Out(i)
	}
	return out
}

func results(t reflect.Type, out []reflect.Value) (any, error) {
	var err error
	if n := t.NumOut(); n > 0 && t.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, err
	case 1:
		return out[0].Interface(), err
	}
	vals := make([]any, len(out))
	for i, v := range out {
		vals[i] = v.Interface()
	}
	return vals, err
}

// decodeResult turns a cached value back into the result shape of a func of
// type t.
func decodeResult(t reflect.Type, val any) (any, bool) {
	types := valueTypes(t)
	switch len(types) {
	case 0:
		return nil, true
	case 1:
		want := types[0]
		if enc, ok := val.(Encoded); ok {
			ptr := reflect.New(want)
			if err := msgpack.Unmarshal(enc, ptr.Interface()); err != nil {
				return nil, false
			}
			return ptr.Elem().Interface(), true
		}
		if val == nil {
			return reflect.Zero(want).Interface(), nillable(want.Kind())
		}
		return val, reflect.TypeOf(val).AssignableTo(want)
	}
	if enc, ok := val.(Encoded); ok {
		var raw []msgpack.RawMessage
		if err := msgpack.Unmarshal(enc, &raw); err != nil || len(raw) != len(types) {
			return nil, false
		}
		vals := make([]any, len(types))
		for i, elem := range raw {
			ptr := reflect.New(types[i])
			if err := msgpack.Unmarshal(elem, ptr.Interface()); err != nil {
				return nil, false
			}
			vals[i] = ptr.Elem().Interface()
		}
		return vals, true
	}
	vals, ok := val.([]any)
	return vals, ok && len(vals) == len(types)
}
