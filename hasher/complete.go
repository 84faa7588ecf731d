package hasher

import (
	"encoding"
	"encoding/json"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// encoderRules describes what a reflection based encoder does with a value.
type encoderRules struct {
	// tag is the struct tag the encoder reads; "-" skips a field.
	tag string
	// marshalers are the interfaces the encoder hands a value to instead of
	// walking it.
	marshalers []reflect.Type
	// sortedMap reports whether maps of type t are encoded in key order.
	sortedMap func(t reflect.Type) bool
}

var msgpackRules = encoderRules{
	tag: "msgpack",
	marshalers: []reflect.Type{
		reflect.TypeFor[msgpack.CustomEncoder](),
		reflect.TypeFor[msgpack.Marshaler](),
		reflect.TypeFor[encoding.BinaryMarshaler](),
		reflect.TypeFor[encoding.TextMarshaler](),
	},
	sortedMap: func(t reflect.Type) bool {
		switch t {
		case reflect.TypeFor[map[string]string](),
			reflect.TypeFor[map[string]bool](),
			reflect.TypeFor[map[string]any]():
			return true
		}
		return false
	},
}

var jsonRules = encoderRules{
	tag: "json",
	marshalers: []reflect.Type{
		reflect.TypeFor[json.Marshaler](),
		reflect.TypeFor[encoding.TextMarshaler](),
	},
	sortedMap: func(reflect.Type) bool { return true },
}

// complete reports whether encoding v keeps every field and orders every map,
// so that two values encode equally exactly when they are equal. Values on a
// reference cycle are not complete either.
func (r encoderRules) complete(v reflect.Value, path map[uintptr]bool) bool {
	if !v.IsValid() {
		return true
	}
	t := v.Type()
	for _, m := range r.marshalers {
		if t.Implements(m) {
			return true
		}
	}
	switch v.Kind() {
	case reflect.Interface:
		return r.complete(v.Elem(), path)
	case reflect.Pointer:
		if v.IsNil() {
			return true
		}
		return r.enter(v.Pointer(), path, func() bool { return r.complete(v.Elem(), path) })
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return true
		}
		for i := 0; i < v.Len(); i++ {
			if !r.complete(v.Index(i), path) {
				return false
			}
		}
	case reflect.Map:
		if !r.sortedMap(t) {
			return false
		}
		if v.IsNil() {
			return true
		}
		return r.enter(v.Pointer(), path, func() bool {
			iter := v.MapRange()
			for iter.Next() {
				if !r.complete(iter.Key(), path) || !r.complete(iter.Value(), path) {
					return false
				}
			}
			return true
		})
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get(r.tag) == "-" {
				return false
			}
			if !r.complete(v.Field(i), path) {
				return false
			}
		}
	}
	return true
}

func (r encoderRules) enter(addr uintptr, path map[uintptr]bool, walk func() bool) bool {
	if path[addr] {
		return false
	}
	path[addr] = true
	defer delete(path, addr)
	return walk()
}
