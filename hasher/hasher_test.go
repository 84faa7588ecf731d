package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestStringStable(t *testing.T) {
	a, ok := Digest("abc")
	require.True(t, ok)
	b, ok := Digest("abc")
	require.True(t, ok)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	other, _ := Digest("abd")
	assert.NotEqual(t, a, other)
}

func TestDigestMD5MatchesPlainHash(t *testing.T) {
	sum := md5.Sum([]byte("abc"))
	d, ok := Digest("abc", MD5)
	require.True(t, ok)
	assert.Equal(t, hex.EncodeToString(sum[:]), d)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", d)
}

func TestDigestSHA256Length(t *testing.T) {
	d, ok := Digest([]int{1}, SHA256)
	require.True(t, ok)
	assert.Len(t, d, 64)
}

func TestDigestSeparatelyConstructedSlices(t *testing.T) {
	a := []int{1, 2, 3}
	b := make([]int, 0, 10)
	b = append(b, 1, 2, 3)

	da, ok := Digest(a)
	require.True(t, ok)
	db, ok := Digest(b)
	require.True(t, ok)
	assert.Equal(t, da, db)

	dc, _ := Digest([]int{3, 2, 1})
	assert.NotEqual(t, da, dc)
}

func TestDigestMapOrderIndependent(t *testing.T) {
	m1 := map[string]any{}
	m2 := map[string]any{}
	for i := 0; i < 50; i++ {
		m1[strconv.Itoa(i)] = i
	}
	for i := 49; i >= 0; i-- {
		m2[strconv.Itoa(i)] = i
	}
	d1, ok := Digest(m1)
	require.True(t, ok)
	d2, ok := Digest(m2)
	require.True(t, ok)
	assert.Equal(t, d1, d2)
}

func TestDigestBytesEqualString(t *testing.T) {
	a, _ := Digest("hello")
	b, _ := Digest([]byte("hello"))
	assert.Equal(t, a, b)
}

type point struct {
	X, Y int
}

func TestDigestStructs(t *testing.T) {
	a, ok := Digest(point{1, 2})
	require.True(t, ok)
	b, ok := Digest(&point{1, 2})
	require.True(t, ok)
	c, _ := Digest(point{2, 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func double(n int) int { return n * 2 }
func triple(n int) int { return n * 3 }

func TestDigestFuncs(t *testing.T) {
	a, ok := Digest(double)
	require.True(t, ok)
	b, ok := Digest(double)
	require.True(t, ok)
	c, ok := Digest(triple)
	require.True(t, ok)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

type withChan struct {
	Name string
	C    chan int
}

func TestDigestUnencodable(t *testing.T) {
	_, ok := Digest(make(chan int))
	assert.False(t, ok)

	_, ok = Digest(withChan{Name: "x", C: make(chan int)})
	assert.False(t, ok)

	var x int
	_, ok = Digest([]any{unsafe.Pointer(&x)})
	assert.False(t, ok)
}

type textOnly struct {
	C complex128
}

func TestDigestFallsBackToDump(t *testing.T) {
	// Neither msgpack nor json encode complex numbers.
	a, ok := Digest(textOnly{C: complex(1, 2)})
	require.True(t, ok)
	b, ok := Digest(textOnly{C: complex(1, 2)})
	require.True(t, ok)
	assert.Equal(t, a, b)
}

func TestEncodeSpewRejectsAddresses(t *testing.T) {
	_, err := encodeSpew(withChan{C: make(chan int)})
	assert.ErrorIs(t, err, errUnencodable)

	buf, err := encodeSpew(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(buf), `"a"`), strings.Index(string(buf), `"b"`))
}

func TestTryRecoversPanics(t *testing.T) {
	_, err := try(func(any) ([]byte, error) { panic("boom") }, 1)
	assert.Error(t, err)
}

func TestDigestNil(t *testing.T) {
	a, ok := Digest(nil)
	require.True(t, ok)
	b, _ := Digest([]any(nil))
	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
}

func TestParseAlgorithm(t *testing.T) {
	for _, a := range []Algorithm{XXHash, MD5, SHA256} {
		parsed, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	_, err := ParseAlgorithm("crc32")
	assert.Error(t, err)
}

// distinct returns the number of different digests produced by calling build
// n times.
func distinct(t *testing.T, n int, build func() any) int {
	t.Helper()
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		d, ok := Digest(build())
		require.True(t, ok)
		seen[d] = true
	}
	return len(seen)
}

type inventory struct {
	Name   string
	Counts map[string]int
}

func TestDigestMapOrderAllKinds(t *testing.T) {
	assert.Equal(t, 1, distinct(t, 20, func() any {
		m := map[string]int{}
		for i := 0; i < 20; i++ {
			m[strconv.Itoa(i)] = i
		}
		return m
	}))
	assert.Equal(t, 1, distinct(t, 20, func() any {
		m := map[int]string{}
		for i := 19; i >= 0; i-- {
			m[i] = strconv.Itoa(i)
		}
		return m
	}))
	assert.Equal(t, 1, distinct(t, 20, func() any {
		inv := inventory{Name: "shelf", Counts: map[string]int{}}
		for i := 0; i < 20; i++ {
			inv.Counts["item"+strconv.Itoa(i)] = i
		}
		return []any{inv, &inv}
	}))
	assert.Equal(t, 1, distinct(t, 20, func() any {
		m := map[point]bool{}
		for i := 0; i < 20; i++ {
			m[point{i, -i}] = i%2 == 0
		}
		return m
	}))

	a, _ := Digest(map[string]int{"a": 1, "b": 2})
	b, _ := Digest(map[string]int{"a": 1, "b": 3})
	assert.NotEqual(t, a, b)
}

func TestEncodeMsgpackOnlyAcceptsSortedMaps(t *testing.T) {
	_, err := encodeMsgpack(map[string]any{"a": 1})
	assert.NoError(t, err)
	_, err = encodeMsgpack(map[string]int{"a": 1})
	assert.ErrorIs(t, err, errIncomplete)
	_, err = encodeMsgpack(inventory{Counts: map[string]int{}})
	assert.ErrorIs(t, err, errIncomplete)
	_, err = encodeMsgpack(map[string]any{"nested": map[int]int{1: 1}})
	assert.ErrorIs(t, err, errIncomplete)

	_, err = encodeJSON(map[int]string{1: "a"})
	assert.NoError(t, err)
}

type money struct {
	cents int
}

type invoice struct {
	Number int
	Total  money
}

type tagged struct {
	ID     int
	Secret string `json:"-" msgpack:"-"`
}

type stamped struct {
	At time.Time
}

func TestDigestUnexportedFields(t *testing.T) {
	one, ok := Digest(money{1})
	require.True(t, ok)
	many, ok := Digest(money{500})
	require.True(t, ok)
	assert.NotEqual(t, one, many)

	again, _ := Digest(money{1})
	assert.Equal(t, one, again)

	a, _ := Digest([]any{invoice{1, money{1}}})
	b, _ := Digest([]any{invoice{1, money{2}}})
	assert.NotEqual(t, a, b)

	c, _ := Digest(&tagged{ID: 1, Secret: "x"})
	d, _ := Digest(&tagged{ID: 1, Secret: "y"})
	assert.NotEqual(t, c, d)

	_, err := encodeMsgpack(money{1})
	assert.ErrorIs(t, err, errIncomplete)
	_, err = encodeJSON(money{1})
	assert.ErrorIs(t, err, errIncomplete)
}

func TestDigestTrustsMarshalers(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := encodeMsgpack(stamped{At: at})
	assert.NoError(t, err)

	a, _ := Digest(stamped{At: at})
	b, _ := Digest(stamped{At: at.Add(time.Second)})
	assert.NotEqual(t, a, b)
}

type node struct {
	Name string
	Next *node
}

func TestDigestCycles(t *testing.T) {
	n := &node{Name: "loop"}
	n.Next = n
	_, err := encodeMsgpack(n)
	assert.ErrorIs(t, err, errIncomplete)

	a, ok := Digest(n)
	require.True(t, ok)
	b, ok := Digest(n)
	require.True(t, ok)
	assert.Equal(t, a, b)
}

type scaler struct{ factor int }

func (s scaler) scale(n int) int { return n * s.factor }

func identity[T any](v T) T { return v }

func TestDigestSharedCodeFuncs(t *testing.T) {
	var adders []func(int) int
	for _, k := range []int{1, 100} {
		adders = append(adders, func(n int) int { return n + k })
	}
	for _, fn := range adders {
		_, ok := Digest(fn)
		assert.False(t, ok)
	}

	_, ok := Digest(scaler{2}.scale)
	assert.False(t, ok)
	_, ok = Digest(identity[int])
	assert.False(t, ok)
	_, ok = Digest([]any{1, adders[0]})
	assert.False(t, ok)

	byExpr, ok := Digest(scaler.scale)
	require.True(t, ok)
	assert.NotEmpty(t, byExpr)
}

func TestSharedCodeNames(t *testing.T) {
	tests := []struct {
		name   string
		shared bool
	}{
		{"example.com/pkg.double", false},
		{"example.com/pkg.(*scaler).scale", false},
		{"example.com/pkg.functional", false},
		{"example.com/pkg.TestX.func1", true},
		{"example.com/pkg.TestX.func1.2", true},
		{"example.com/pkg.glob..func3", true},
		{"example.com/pkg.scaler.scale-fm", true},
		{"example.com/pkg.Walk-range1", true},
		{"example.com/pkg.identity[...]", true},
		{"example.com/pkg.(*list[...]).Push", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.shared, sharedCode.MatchString(tt.name), tt.name)
	}
}
