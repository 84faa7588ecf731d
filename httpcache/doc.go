// Package httpcache caches whole responses (status, headers and body) on top
// of a cache.Cache.
//
// RequestCache works against the small Cycle interface so it can sit in any
// request pipeline; Middleware adapts it to net/http. Every cycle that goes
// through the cache carries exactly one X-Cache header, HIT or MISS. Only
// responses with a 2xx or 3xx status are stored, and a stale entry is served
// with HIT while a single request refreshes it.
package httpcache
