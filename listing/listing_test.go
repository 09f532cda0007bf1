package listing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/listing"
)

type fakeStore struct {
	objects  map[string][]listing.ObjectInfo // prefix -> objects
	prefixes map[string][]string
	metadata map[string]map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]listing.ObjectInfo{}, prefixes: map[string][]string{}, metadata: map[string]map[string]string{}}
}

func (f *fakeStore) ListV2(_ context.Context, prefix, delimiter, startAfter, continuationToken string, maxKeys int) (listing.Page, error) {
	return listing.Page{Objects: f.objects[prefix], CommonPrefixes: f.prefixes[prefix]}, nil
}

func (f *fakeStore) HeadMetadata(_ context.Context, key string) (map[string]string, error) {
	return f.metadata[key], nil
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "signed://" + key, nil
}

func (fakeSigner) PublicURL(key string) string { return "public://" + key }

func TestListClassifiesDirectoriesAndObjects(t *testing.T) {
	store := newFakeStore()
	store.prefixes["u1/docs/"] = []string{"u1/docs/photos/", "u1/docs/secretdir/"}
	store.objects["u1/docs/"] = []listing.ObjectInfo{
		{Key: "u1/docs/a.txt", Size: 10},
		{Key: "u1/docs/.emptyFolderPlaceholder", Size: 0},
	}

	e := listing.New(store, fakeSigner{}, kv.NewMemoryStore(), time.Hour)

	opts := listing.Options{
		Access: listing.AccessState{
			EncryptedPaths: map[string]bool{"docs/secretdir": true},
			UnlockedPaths:  map[string]bool{},
		},
	}

	result, err := e.List(context.Background(), "u1", "docs", opts)
	require.NoError(t, err)
	require.Len(t, result.Objects, 1)
	require.Equal(t, "a.txt", result.Objects[0].Name)
	require.Len(t, result.Directories, 2)

	var secret listing.DirectoryRecord
	for _, d := range result.Directories {
		if d.Name == "secretdir" {
			secret = d
		}
	}

	require.True(t, secret.IsEncrypted)
	require.True(t, secret.IsLocked)
}

func TestListUnlockedEncryptedDirectoryNotLocked(t *testing.T) {
	store := newFakeStore()
	store.prefixes["u1/"] = []string{"u1/vault/"}

	e := listing.New(store, fakeSigner{}, kv.NewMemoryStore(), time.Hour)
	opts := listing.Options{
		Access: listing.AccessState{
			EncryptedPaths: map[string]bool{"vault": true},
			UnlockedPaths:  map[string]bool{"vault": true},
		},
	}

	result, err := e.List(context.Background(), "u1", "", opts)
	require.NoError(t, err)
	require.False(t, result.Directories[0].IsLocked)
}

func TestListCachesResult(t *testing.T) {
	store := newFakeStore()
	store.objects["u1/"] = []listing.ObjectInfo{{Key: "u1/a.txt", Size: 1}}

	e := listing.New(store, fakeSigner{}, kv.NewMemoryStore(), time.Hour)
	ctx := context.Background()

	r1, err := e.List(ctx, "u1", "", listing.Options{})
	require.NoError(t, err)

	store.objects["u1/"] = nil // mutate underlying store; cached result should be unaffected
	r2, err := e.List(ctx, "u1", "", listing.Options{})
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestBreadcrumb(t *testing.T) {
	crumbs := listing.Breadcrumb("/a/b/c/")
	require.Len(t, crumbs, 3)
	require.Equal(t, "a/b/c", crumbs[2].Prefix)
	require.Equal(t, "c", crumbs[2].Name)
}

func TestHydrateMetadataPopulatesObjects(t *testing.T) {
	store := newFakeStore()
	store.objects["u1/"] = []listing.ObjectInfo{{Key: "u1/a.txt", Size: 1}}
	store.metadata["u1/a.txt"] = map[string]string{"original-name": "a.txt"}

	e := listing.New(store, fakeSigner{}, kv.NewMemoryStore(), time.Hour)
	result, err := e.List(context.Background(), "u1", "", listing.Options{WantMetadata: true})
	require.NoError(t, err)
	require.Equal(t, "a.txt", result.Objects[0].Metadata["OriginalName"])
}

func TestInvalidateListCache(t *testing.T) {
	store := newFakeStore()
	cache := kv.NewMemoryStore()
	e := listing.New(store, fakeSigner{}, cache, time.Hour)
	ctx := context.Background()

	_, err := e.List(ctx, "u1", "", listing.Options{})
	require.NoError(t, err)

	require.NoError(t, e.InvalidateListCache(ctx, "u1"))

	keys, _ := cache.FindKeys(ctx, "cloud:list:u1:*")
	require.Empty(t, keys)
}
