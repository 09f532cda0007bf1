package kv_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/kv"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := kv.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cloud:usage:u1", map[string]int64{"bytes": 42}, 0))

	var got map[string]int64
	ok, err := s.Get(ctx, "cloud:usage:u1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, got["bytes"])
}

func TestGetMissing(t *testing.T) {
	s := kv.NewMemoryStore()
	var got string
	ok, err := s.Get(context.Background(), "nope", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	s := kv.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got string
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := kv.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "k"))

	var got string
	ok, _ := s.Get(ctx, "k", &got)
	require.False(t, ok)
}

func TestFindKeysGlob(t *testing.T) {
	s := kv.NewMemoryStore()
	ctx := context.Background()

	for _, k := range []string{
		"cloud:list:u1:root:full",
		"cloud:list:u1:docs:full",
		"cloud:list:u2:root:full",
		"cloud:usage:u1",
	} {
		require.NoError(t, s.Set(ctx, k, "x", 0))
	}

	keys, err := s.FindKeys(ctx, "cloud:list:u1:*")
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{"cloud:list:u1:docs:full", "cloud:list:u1:root:full"}, keys)

	fourChar, err := s.FindKeys(ctx, "cloud:list:u1:????:full")
	require.NoError(t, err)
	sort.Strings(fourChar)
	require.Equal(t, []string{"cloud:list:u1:docs:full", "cloud:list:u1:root:full"}, fourChar)
}

func TestDeleteByPattern(t *testing.T) {
	s := kv.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cloud:list:u1:a", "x", 0))
	require.NoError(t, s.Set(ctx, "cloud:list:u1:b", "x", 0))
	require.NoError(t, s.Set(ctx, "cloud:list:u2:a", "x", 0))

	n, err := s.DeleteByPattern(ctx, "cloud:list:u1:*")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	keys, _ := s.FindKeys(ctx, "cloud:list:*")
	require.Equal(t, []string{"cloud:list:u2:a"}, keys)
}

func TestExpiredEntriesExcludedFromPatternScan(t *testing.T) {
	s := kv.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cloud:session:u1:a", "x", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	n, err := s.DeleteByPattern(ctx, "cloud:session:u1:*")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
