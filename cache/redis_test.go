package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisFetchReturnsEncoded(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedis(client)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "key", map[string]int{"a": 1}, time.Minute))
	found, val, err := c.Fetch(ctx, "key", time.Minute)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.IsType(t, Encoded{}, val)

	ok, m, err := Fetch[map[string]int](ctx, c, "key", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, m)
}

func TestRedisByteSliceValues(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedis(client)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "raw", []byte("hello"), time.Minute))
	ok, raw, err := Fetch[[]byte](ctx, c, "raw", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), raw)
}

func TestRedisPrefixAndLayout(t *testing.T) {
	mr, client := newTestRedis(t)
	clock := newFakeClock()
	c := NewRedis(client, WithPrefix("app"), WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "key", "v", time.Second))
	assert.True(t, mr.Exists("app:key"))
	assert.False(t, mr.Exists("key"))
	assert.Equal(t, "0", mr.HGet("app:key", "l"))
	assert.Equal(t, micros(clock.Now().Add(time.Second)), mr.HGet("app:key", "e"))
	assert.Equal(t, time.Duration(0), mr.TTL("app:key"))

	clock.Advance(time.Second)
	found, _, err := c.Fetch(ctx, "key", 8*time.Second)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, micros(clock.Now().Add(2*time.Second)), mr.HGet("app:key", "l"))
}

func TestRedisRetention(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedis(client, WithRetention(time.Hour))
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "key", "v", time.Minute))
	assert.Equal(t, time.Hour+time.Minute, mr.TTL("key"))

	// a later store without retention must not inherit the expiry
	plain := NewRedis(client)
	require.NoError(t, plain.Store(ctx, "key", "v", time.Minute))
	assert.Equal(t, time.Duration(0), mr.TTL("key"))
}

func TestRedisClaimSharedAcrossInstances(t *testing.T) {
	_, client := newTestRedis(t)
	clock := newFakeClock()
	a := NewRedis(client, WithClock(clock.Now))
	other := redis.NewClient(client.Options())
	defer other.Close()
	b := NewRedis(other, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "key", "v", time.Second))
	clock.Advance(2 * time.Second)

	found, _, err := a.Fetch(ctx, "key", time.Second)
	assert.NoError(t, err)
	assert.False(t, found)

	found, val, err := Fetch[string](ctx, b, "key", time.Second)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedis(client, WithQueryTimeout(200*time.Millisecond))
	mr.Close()

	ctx := context.Background()
	found, _, err := c.Fetch(ctx, "key", time.Second)
	assert.Error(t, err)
	assert.False(t, found)
	assert.Error(t, c.Store(ctx, "key", "v", time.Second))
}

func TestRedisStoreUnencodable(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedis(client)
	err := c.Store(context.Background(), "key", make(chan int), time.Second)
	assert.Error(t, err)
}

func TestRedisCloseLeavesClientOpen(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedis(client)
	assert.NoError(t, c.Close())
	assert.NoError(t, client.Ping(context.Background()).Err())
}
