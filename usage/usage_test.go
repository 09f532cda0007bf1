package usage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/usage"
)

type fakeLister struct {
	sizes map[string]int64
}

func (f *fakeLister) SumSizeUnderPrefix(_ context.Context, prefix string) (int64, error) {
	return f.sizes[prefix], nil
}

type fakeSubs struct {
	maxBytes  int64
	maxUpload int64
	features  map[string]string
	plan      string
}

func (f *fakeSubs) MaxBytes(context.Context, string) (int64, error) { return f.maxBytes, nil }
func (f *fakeSubs) MaxUploadSizeBytes(context.Context, string) (int64, error) {
	return f.maxUpload, nil
}
func (f *fakeSubs) PlanSlug(context.Context, string) (string, error) { return f.plan, nil }
func (f *fakeSubs) Feature(_ context.Context, _ string, key string) (string, bool, error) {
	v, ok := f.features[key]
	return v, ok, nil
}

func TestUserStorageUsageSeedsFromScan(t *testing.T) {
	lister := &fakeLister{sizes: map[string]int64{"u1/": 1000}}
	subs := &fakeSubs{maxBytes: 10000, maxUpload: 500}
	store := kv.NewMemoryStore()

	a := usage.New(lister, subs, store)
	u, err := a.UserStorageUsage(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), u.UsedBytes)
	require.Equal(t, int64(10000), u.MaxBytes)
	require.False(t, u.IsLimitExceeded)
	require.InDelta(t, 10.0, u.UsagePercentage, 0.001)
}

func TestIncrementDecrementClampsAtZero(t *testing.T) {
	lister := &fakeLister{sizes: map[string]int64{"u1/": 0}}
	subs := &fakeSubs{maxBytes: 1000}
	store := kv.NewMemoryStore()
	ctx := context.Background()

	a := usage.New(lister, subs, store)
	require.NoError(t, a.Increment(ctx, "u1", 500))
	require.NoError(t, a.Decrement(ctx, "u1", 900))

	u, err := a.UserStorageUsage(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), u.UsedBytes)
}

func TestIsLimitExceeded(t *testing.T) {
	lister := &fakeLister{sizes: map[string]int64{"u1/": 2000}}
	subs := &fakeSubs{maxBytes: 1000}
	store := kv.NewMemoryStore()

	a := usage.New(lister, subs, store)
	u, err := a.UserStorageUsage(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, u.IsLimitExceeded)
}

func TestRecomputeDiscardsCache(t *testing.T) {
	lister := &fakeLister{sizes: map[string]int64{"u1/": 100}}
	subs := &fakeSubs{maxBytes: 1000}
	store := kv.NewMemoryStore()
	ctx := context.Background()

	a := usage.New(lister, subs, store)
	_, err := a.UserStorageUsage(ctx, "u1")
	require.NoError(t, err)

	lister.sizes["u1/"] = 777
	total, err := a.Recompute(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(777), total)
}

func TestGetDownloadSpeedFeatureOverride(t *testing.T) {
	subs := &fakeSubs{features: map[string]string{"downloadSpeedBytesPerSec": "12345"}}
	a := usage.New(&fakeLister{sizes: map[string]int64{}}, subs, kv.NewMemoryStore())

	speed, err := a.GetDownloadSpeedBytesPerSec(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(12345), speed)
}

func TestGetDownloadSpeedStaticTableFallback(t *testing.T) {
	subs := &fakeSubs{plan: "pro"}
	a := usage.New(&fakeLister{sizes: map[string]int64{}}, subs, kv.NewMemoryStore())

	speed, err := a.GetDownloadSpeedBytesPerSec(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(5*1024*1024), speed)
}

func TestGetDownloadSpeedDefaultFallback(t *testing.T) {
	subs := &fakeSubs{plan: "unknown-plan"}
	a := usage.New(&fakeLister{sizes: map[string]int64{}}, subs, kv.NewMemoryStore())

	speed, err := a.GetDownloadSpeedBytesPerSec(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(50*1024), speed)
}
