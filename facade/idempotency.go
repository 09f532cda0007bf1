package facade

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/kv"
)

// idempotencyKeyPrefix namespaces the cache key so DeleteByPattern-style
// bulk invalidation (none is needed today) would not collide with the list
// or manifest cache namespaces.
const idempotencyKeyPrefix = "cloud:idempotent:"

// idempotencyCacheKey hashes (owner, action, key) with blake3 so neither the
// action name nor the caller-supplied idempotency key ever appears in the
// cache namespace verbatim.
func idempotencyCacheKey(owner, action, key string) string {
	h := blake3.New()
	h.Write([]byte(owner))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write([]byte(key))

	return idempotencyKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// withIdempotency runs fn at most once per (owner, action, idempotencyKey)
// within ttl: a repeated call inside the window returns the first call's
// result without re-invoking fn. An empty idempotencyKey disables the
// envelope entirely (fn always runs), since not every facade operation is
// given one by its caller.
func withIdempotency[T any](ctx context.Context, cache kv.Store, owner, action, idempotencyKey string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if idempotencyKey == "" {
		return fn(ctx)
	}

	cacheKey := idempotencyCacheKey(owner, action, idempotencyKey)

	var cached T
	if ok, err := cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		metricIdempotencyHits.Inc()
		return cached, nil
	}

	metricIdempotencyMisses.Inc()

	result, err := fn(ctx)
	if err != nil {
		return result, err
	}

	if err := cache.Set(ctx, cacheKey, result, ttl); err != nil {
		return result, cverr.Wrap(err, cverr.KindInternal, "persisting idempotency record")
	}

	return result, nil
}
