// Package hasher derives stable digests from arbitrary Go values for use as
// cache keys.
//
// Strings and byte slices are hashed as-is. Any other value is encoded by the
// first encoder in the following order that accepts it:
//
//  1. msgpack with sorted map keys
//  2. encoding/json
//  3. a go-spew structural dump (sorted keys, no pointer addresses)
//  4. a fmt %#v dump
//
// msgpack only sorts the keys of map[string]string, map[string]bool and
// map[string]any, and both msgpack and json skip unexported or "-" tagged
// struct fields. Values that would be encoded with a random key order or
// with fields missing are passed on to the next encoder, so equal values
// always digest equally and values that differ only in hidden fields do not.
// Types with their own marshaler (time.Time for instance) are trusted.
//
// Top-level funcs and method expressions cannot be serialized and are
// identified by their symbol name and entry point instead. Closures, method
// values and instantiated generic funcs share code between values that behave
// differently, so they have no digest. Values that hold channels or unsafe
// pointers are rejected by the two dump encoders because their text would
// contain memory addresses. When nothing can encode a value, Digest reports
// false and callers should not cache.
//
// Digests are stable for the lifetime of a process only.
package hasher

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"reflect"
	"regexp"
	"runtime"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/davecgh/go-spew/spew"
	"github.com/vmihailenco/msgpack/v5"
)

// Algorithm selects the hash function applied to the encoded value.
type Algorithm int

const (
	// XXHash is the default: fast and non-cryptographic.
	XXHash Algorithm = iota
	MD5
	SHA256
)

func (a Algorithm) String() string {
	switch a {
	case XXHash:
		return "xxhash"
	case MD5:
		return "md5"
	case SHA256:
		return "sha256"
	default:
		return "unknown(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParseAlgorithm maps a name as returned by Algorithm.String back to the Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "xxhash":
		return XXHash, nil
	case "md5":
		return MD5, nil
	case "sha256":
		return SHA256, nil
	}
	return 0, errors.Newf("hasher: unknown algorithm %q", name)
}

func (a Algorithm) new() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA256:
		return sha256.New()
	default:
		return xxhash.New()
	}
}

var (
	errUnencodable    = errors.New("hasher: value holds a channel or unsafe pointer")
	errUnidentifiable = errors.New("hasher: func shares its code with other func values")
	errIncomplete     = errors.New("hasher: encoder would drop data or order it randomly")
)

type encoder func(v any) ([]byte, error)

var encoders = []encoder{
	encodeFunc,
	encodeMsgpack,
	encodeJSON,
	encodeSpew,
	encodeGoSyntax,
}

// Digest returns the hex digest of v. The second result is false when no
// encoder could produce a stable representation of v.
func Digest(v any, algo ...Algorithm) (string, bool) {
	a := XXHash
	if len(algo) > 0 {
		a = algo[0]
	}
	var buf []byte
	switch val := v.(type) {
	case string:
		buf = []byte(val)
	case []byte:
		buf = val
	default:
		var ok bool
		if buf, ok = encode(v); !ok {
			return "", false
		}
	}
	h := a.new()
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil)), true
}

func encode(v any) ([]byte, bool) {
	for _, enc := range encoders {
		if buf, err := try(enc, v); err == nil {
			return buf, true
		}
	}
	return nil, false
}

func try(enc encoder, v any) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, errors.Newf("hasher: encoder panicked: %v", r)
		}
	}()
	return enc(v)
}

// sharedCode matches symbols whose code is shared by func values that capture
// different state: closures, method values, range-over-func bodies and
// generic instantiations.
var sharedCode = regexp.MustCompile(`\.func\d+(\.|-|$)|-fm$|-range\d+|\[\.\.\.\]`)

func encodeFunc(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func {
		return nil, errors.New("hasher: not a func")
	}
	if rv.IsNil() {
		return []byte("func:nil:" + rv.Type().String()), nil
	}
	pc := rv.Pointer()
	fn := runtime.FuncForPC(pc)
	if fn == nil || sharedCode.MatchString(fn.Name()) {
		return nil, errUnidentifiable
	}
	return []byte(fmt.Sprintf("func:%s:%s@%#x", fn.Name(), rv.Type(), pc)), nil
}

func encodeMsgpack(v any) ([]byte, error) {
	if !msgpackRules.complete(reflect.ValueOf(v), map[uintptr]bool{}) {
		return nil, errIncomplete
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeJSON(v any) ([]byte, error) {
	if !jsonRules.complete(reflect.ValueOf(v), map[uintptr]bool{}) {
		return nil, errIncomplete
	}
	return json.Marshal(v)
}

var spewConfig = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SpewKeys:                true,
}

func encodeSpew(v any) ([]byte, error) {
	if holdsAddress(reflect.ValueOf(v), map[uintptr]bool{}) {
		return nil, errUnencodable
	}
	return []byte(spewConfig.Sdump(v)), nil
}

func encodeGoSyntax(v any) ([]byte, error) {
	if holdsAddress(reflect.ValueOf(v), map[uintptr]bool{}) {
		return nil, errUnencodable
	}
	return []byte(fmt.Sprintf("%#v", v)), nil
}

// holdsAddress reports whether rendering v as text would leak a memory
// address that differs between equal values.
func holdsAddress(v reflect.Value, seen map[uintptr]bool) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Chan, reflect.UnsafePointer, reflect.Func:
		return true
	case reflect.Pointer:
		if v.IsNil() {
			return false
		}
		if seen[v.Pointer()] {
			return false
		}
		seen[v.Pointer()] = true
		return holdsAddress(v.Elem(), seen)
	case reflect.Interface:
		return holdsAddress(v.Elem(), seen)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if holdsAddress(v.Index(i), seen) {
				return true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if holdsAddress(iter.Key(), seen) || holdsAddress(iter.Value(), seen) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if holdsAddress(v.Field(i), seen) {
				return true
			}
		}
	}
	return false
}
