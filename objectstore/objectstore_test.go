package objectstore_test

import (
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/objectstore"
)

func TestGetKey(t *testing.T) {
	g, err := objectstore.New(objectstore.Options{
		Endpoint: "localhost:9000",
		Bucket:   "b",
	})
	require.NoError(t, err)

	require.Equal(t, "u1/docs/a.txt", g.GetKey("docs/a.txt", "u1"))
	require.Equal(t, "docs/a.txt", g.GetKey("/docs/a.txt/", ""))
}

func TestGetUrlAndPublicHostname(t *testing.T) {
	g, err := objectstore.New(objectstore.Options{
		Endpoint:       "internal.local:9000",
		Bucket:         "b",
		UseSSL:         true,
		PublicHostname: "cdn.example.com",
	})
	require.NoError(t, err)

	require.Equal(t, "cdn.example.com", g.GetPublicHostname())
	require.Equal(t, "https://cdn.example.com/b/u1/a.txt", g.GetUrl("u1/a.txt"))
}

func TestGetBuckets(t *testing.T) {
	g, err := objectstore.New(objectstore.Options{Endpoint: "localhost:9000", Bucket: "mybucket"})
	require.NoError(t, err)
	require.Equal(t, []string{"mybucket"}, g.GetBuckets())
}

func TestIsNotFoundError(t *testing.T) {
	require.False(t, objectstore.IsNotFoundError(nil))
	require.False(t, objectstore.IsNotFoundError(errors.New("boom")))

	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "missing"}
	require.True(t, objectstore.IsNotFoundError(notFound))

	wrapped := errors.Wrap(notFound, "while heading object")
	require.True(t, objectstore.IsNotFoundError(wrapped))

	other := minio.ErrorResponse{Code: "AccessDenied"}
	require.False(t, objectstore.IsNotFoundError(other))
}
