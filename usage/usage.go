// Package usage implements the cached per-owner storage counter: seeding
// from a full listing scan on cache miss, compare-read-write
// increment/decrement with zero-clamping, and subscription-derived limits
// lookup. Grounded on block/block_formatter.go's accept-a-small-interface
// style (the package depends on narrow Lister/Counter contracts, not
// concrete object-store or KV types) and enriched with a cron-driven
// reconciliation sweep in the manner of the notification package's
// background dispatch loop.
package usage

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/kv"
)

// Lister is the narrow listing dependency usage needs: a full ListV2 scan
// under an owner prefix, summing object sizes.
type Lister interface {
	SumSizeUnderPrefix(ctx context.Context, prefix string) (int64, error)
}

// Subscription is the narrow dependency on the (out-of-scope) subscription
// record: max bytes, max upload size, and plan-specific feature flags.
type Subscription interface {
	MaxBytes(ctx context.Context, owner string) (int64, error)
	MaxUploadSizeBytes(ctx context.Context, owner string) (int64, error)
	Feature(ctx context.Context, owner, key string) (string, bool, error)
	PlanSlug(ctx context.Context, owner string) (string, error)
}

// Usage is the result of UserStorageUsage.
type Usage struct {
	UsedBytes          int64
	MaxBytes           int64
	IsLimitExceeded    bool
	UsagePercentage    float64
	MaxUploadSizeBytes int64
}

const cacheKeyPrefix = "cloud:usage:"

// staticDownloadSpeeds is the plan-slug fallback table consulted when the
// subscription record carries no explicit downloadSpeedBytesPerSec feature.
var staticDownloadSpeeds = map[string]int64{
	"free":       50 * 1024,
	"starter":    500 * 1024,
	"pro":        5 * 1024 * 1024,
	"enterprise": 50 * 1024 * 1024,
}

const defaultDownloadSpeedBytesPerSec = 50 * 1024

// Accountant implements the usage component.
type Accountant struct {
	store Lister
	subs  Subscription
	kv    kv.Store

	mu sync.Mutex
}

// New constructs an Accountant.
func New(store Lister, subs Subscription, store2 kv.Store) *Accountant {
	return &Accountant{store: store, subs: subs, kv: store2}
}

func cacheKey(owner string) string {
	return cacheKeyPrefix + owner
}

// UserStorageUsage returns the owner's current usage, seeding the cached
// counter from a full prefix scan on miss.
func (a *Accountant) UserStorageUsage(ctx context.Context, owner string) (Usage, error) {
	used, err := a.currentBytes(ctx, owner)
	if err != nil {
		return Usage{}, err
	}

	maxBytes, err := a.subs.MaxBytes(ctx, owner)
	if err != nil {
		return Usage{}, cverr.Wrap(err, cverr.KindInternal, "reading subscription limits")
	}

	maxUpload, err := a.subs.MaxUploadSizeBytes(ctx, owner)
	if err != nil {
		return Usage{}, cverr.Wrap(err, cverr.KindInternal, "reading upload size limit")
	}

	var pct float64
	if maxBytes > 0 {
		pct = float64(used) / float64(maxBytes) * 100
	}

	return Usage{
		UsedBytes:          used,
		MaxBytes:           maxBytes,
		IsLimitExceeded:    maxBytes > 0 && used > maxBytes,
		UsagePercentage:    pct,
		MaxUploadSizeBytes: maxUpload,
	}, nil
}

func (a *Accountant) currentBytes(ctx context.Context, owner string) (int64, error) {
	var cached int64

	ok, err := a.kv.Get(ctx, cacheKey(owner), &cached)
	if err != nil {
		return 0, cverr.Wrap(err, cverr.KindInternal, "reading usage cache")
	}

	if ok {
		return cached, nil
	}

	total, err := a.store.SumSizeUnderPrefix(ctx, strings.TrimSuffix(owner, "/")+"/")
	if err != nil {
		return 0, cverr.Wrap(err, cverr.KindInternal, "scanning owner storage")
	}

	if err := a.kv.Set(ctx, cacheKey(owner), total, 0); err != nil {
		return 0, cverr.Wrap(err, cverr.KindInternal, "seeding usage cache")
	}

	return total, nil
}

// Increment adds delta (non-negative) bytes to owner's cached counter.
func (a *Accountant) Increment(ctx context.Context, owner string, delta int64) error {
	return a.adjust(ctx, owner, delta)
}

// Decrement subtracts delta (non-negative) bytes from owner's cached
// counter, clamping at zero.
func (a *Accountant) Decrement(ctx context.Context, owner string, delta int64) error {
	return a.adjust(ctx, owner, -delta)
}

// adjust performs a compare-read-write update. Per the design this is not
// atomic across concurrent workers for the same owner; divergence is
// accepted and corrected when the entry (stored with no TTL) is rebuilt
// from a scan by Recompute or on a cache miss.
func (a *Accountant) adjust(ctx context.Context, owner string, delta int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.currentBytes(ctx, owner)
	if err != nil {
		return err
	}

	next := cur + delta
	if next < 0 {
		next = 0
	}

	if err := a.kv.Set(ctx, cacheKey(owner), next, 0); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "updating usage cache")
	}

	return nil
}

// Recompute forces a fresh scan, discarding the cached counter, and returns
// the freshly computed total.
func (a *Accountant) Recompute(ctx context.Context, owner string) (int64, error) {
	if err := a.kv.Delete(ctx, cacheKey(owner)); err != nil {
		return 0, cverr.Wrap(err, cverr.KindInternal, "clearing usage cache")
	}

	return a.currentBytes(ctx, owner)
}

// GetDownloadSpeedBytesPerSec resolves the owner's throttled download rate:
// subscription feature override, then a static per-plan table, then a
// conservative default.
func (a *Accountant) GetDownloadSpeedBytesPerSec(ctx context.Context, owner string) (int64, error) {
	if v, ok, err := a.subs.Feature(ctx, owner, "downloadSpeedBytesPerSec"); err == nil && ok {
		if n, ok := parseBytesPerSec(v); ok {
			return n, nil
		}
	}

	plan, err := a.subs.PlanSlug(ctx, owner)
	if err == nil {
		if n, ok := staticDownloadSpeeds[plan]; ok {
			return n, nil
		}
	}

	return defaultDownloadSpeedBytesPerSec, nil
}

func parseBytesPerSec(v string) (int64, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}
