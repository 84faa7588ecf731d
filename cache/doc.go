// Package cache provides a TTL key/value store with stampede protection,
// function memoization on top of it, and a small registry for choosing a
// backend at startup.
//
// # Fetch and Store
//
// Every backend implements [Cache]. [Cache.Store] writes a value that stays
// fresh for its ttl. [Cache.Fetch] returns fresh values directly. Once a value
// has gone stale, the first caller to Fetch it gets a miss and, with it, a
// refresh lock lasting a quarter of the ttl passed to that Fetch. Until the lock
// runs out or the value is stored again, every other caller gets the stale
// value instead of recomputing it:
//
//	found, val, err := c.Fetch(ctx, "report", time.Minute)
//	if err == nil && !found {
//	    val = buildReport()
//	    _ = c.Store(ctx, "report", val, time.Minute)
//	}
//
// Entries are never deleted by the store. A stale value remains available
// until it is overwritten.
//
// # Implementations
//
//   - [NewInMemory]: in-process map guarded by one mutex. Values are stored
//     as-is. Fetch holds the mutex for the whole read-check-claim step.
//
//   - [NewRedis]: backed by Redis using [github.com/redis/go-redis/v9].
//     Values are serialized with msgpack and kept in a hash per key. The
//     read-check-claim step runs as a Lua script, so it is atomic across
//     processes. Fetch returns [Encoded] values; use the generic [Fetch] to
//     decode them. Each operation uses a per-query timeout
//     ([DefaultQueryTimeout]).
//
// # Memoization
//
// [Memoizer] caches function results keyed by the digest of the function
// followed by the digest of its arguments (see package hasher):
//
//	m := cache.NewMemoizer(c)
//	v, err := m.Call(ctx, lookupUser, []any{42}, time.Minute)
//
// [MemoizeFunc] does the same with static types. Zero results are cached, and
// errors are not. Cache failures are logged and never fail the call.
//
// Closures and method values have no identity of their own and run uncached
// unless given a name:
//
//	v, err := m.Call(ctx, cache.Named("user", db.LookupUser), []any{42}, time.Minute)
//
// # Choosing a Backend
//
// [Open] builds a Cache from a [Config]. With the "detect" type it tries each
// registered backend once, in order, and falls back to the in-memory store:
//
//	c, err := cache.Open(ctx, cache.Config{Type: "detect", RedisURL: os.Getenv("REDIS_URL")})
//
// Additional backends can be added with [Register].
package cache
