package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/objectstore"
)

func TestWithIdempotencyCachesSecondCall(t *testing.T) {
	cache := kv.NewMemoryStore()
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "result", nil
	}

	first, err := withIdempotency(ctx, cache, "owner1", "create_directory", "key-1", time.Minute, fn)
	require.NoError(t, err)
	require.Equal(t, "result", first)

	second, err := withIdempotency(ctx, cache, "owner1", "create_directory", "key-1", time.Minute, fn)
	require.NoError(t, err)
	require.Equal(t, "result", second)
	require.Equal(t, 1, calls, "fn must not run again for a repeated idempotency key")
}

func TestWithIdempotencyEmptyKeyDisablesEnvelope(t *testing.T) {
	cache := kv.NewMemoryStore()
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "result", nil
	}

	_, err := withIdempotency(ctx, cache, "owner1", "create_directory", "", time.Minute, fn)
	require.NoError(t, err)
	_, err = withIdempotency(ctx, cache, "owner1", "create_directory", "", time.Minute, fn)
	require.NoError(t, err)

	require.Equal(t, 2, calls)
}

func TestWithIdempotencyDistinguishesOwnerAndAction(t *testing.T) {
	cache := kv.NewMemoryStore()
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "result", nil
	}

	_, err := withIdempotency(ctx, cache, "owner1", "create_directory", "same-key", time.Minute, fn)
	require.NoError(t, err)

	_, err = withIdempotency(ctx, cache, "owner2", "create_directory", "same-key", time.Minute, fn)
	require.NoError(t, err)

	_, err = withIdempotency(ctx, cache, "owner1", "delete", "same-key", time.Minute, fn)
	require.NoError(t, err)

	require.Equal(t, 3, calls, "owner and action must both be part of the cache key")
}

func TestWithIdempotencyPropagatesError(t *testing.T) {
	cache := kv.NewMemoryStore()
	ctx := context.Background()

	assert := require.New(t)

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return "", errBoom
	}

	_, err := withIdempotency(ctx, cache, "owner1", "create_directory", "key-1", time.Minute, fn)
	assert.ErrorIs(err, errBoom)

	// a failed call must not be cached, so a retry with the same key runs fn again.
	_, err = withIdempotency(ctx, cache, "owner1", "create_directory", "key-1", time.Minute, fn)
	assert.ErrorIs(err, errBoom)
	require.Equal(t, 2, calls)
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}

func TestSignerPublicURLUsesGatewayHostname(t *testing.T) {
	gw, err := objectstore.New(objectstore.Options{
		Endpoint:        "internal.local:9000",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
		UseSSL:          true,
		Bucket:          "b",
		PublicHostname:  "cdn.example.com",
	})
	require.NoError(t, err)

	signer := NewSigner(gw)
	require.Equal(t, "https://cdn.example.com/b/u1/a.txt", signer.PublicURL("u1/a.txt"))
}

func TestSignerSignedURLRewritesHost(t *testing.T) {
	gw, err := objectstore.New(objectstore.Options{
		Endpoint:        "internal.local:9000",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
		UseSSL:          true,
		Bucket:          "b",
		PublicHostname:  "cdn.example.com",
	})
	require.NoError(t, err)

	signer := NewSigner(gw)

	u, err := signer.SignedURL(context.Background(), "u1/a.txt", time.Minute)
	require.NoError(t, err)
	require.Contains(t, u, "cdn.example.com")
	require.NotContains(t, u, "internal.local")
}
