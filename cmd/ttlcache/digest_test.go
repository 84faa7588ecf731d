package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/agentuity/go-ttlcache/hasher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDigestCommand(t *testing.T) {
	out, err := run(t, "digest", "--algo", "md5", "abc", "def")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72  abc", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "  def"))
}

func TestDigestCommandDefaultAlgorithm(t *testing.T) {
	out, err := run(t, "digest", "abc")
	require.NoError(t, err)
	want, _ := hasher.Digest("abc")
	assert.Equal(t, want+"  abc\n", out)
}

func TestDigestCommandJSON(t *testing.T) {
	a, err := run(t, "digest", "--json", `{"a":1,"b":2}`)
	require.NoError(t, err)
	b, err := run(t, "digest", "--json", `{"b":2,"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, strings.Fields(a)[0], strings.Fields(b)[0])

	_, err = run(t, "digest", "--json", `{`)
	assert.Error(t, err)
}

func TestDigestCommandErrors(t *testing.T) {
	_, err := run(t, "digest")
	assert.Error(t, err)
	_, err = run(t, "digest", "--algo", "crc32", "x")
	assert.ErrorContains(t, err, "crc32")
}
