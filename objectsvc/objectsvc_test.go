package objectsvc_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/objectsvc"
)

type fakeObject struct {
	body     []byte
	metadata map[string]string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]fakeObject{}}
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func (f *fakeStore) HeadMetadata(_ context.Context, key string) (objectsvc.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[key]
	if !ok {
		return objectsvc.Stat{}, errNotFound{}
	}

	return objectsvc.Stat{Key: key, Size: int64(len(obj.body)), Metadata: cloneMap(obj.metadata)}, nil
}

func (f *fakeStore) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[key]
	if !ok {
		return nil, 0, errNotFound{}
	}

	return io.NopCloser(bytes.NewReader(obj.body)), int64(len(obj.body)), nil
}

func (f *fakeStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, metadata map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.objects[key] = fakeObject{body: data, metadata: cloneMap(metadata)}
	f.mu.Unlock()

	return nil
}

func (f *fakeStore) CopyObject(_ context.Context, src, dst string, metadata map[string]string, replace bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[src]
	if !ok {
		return errNotFound{}
	}

	newObj := fakeObject{body: obj.body, metadata: cloneMap(obj.metadata)}
	if replace {
		newObj.metadata = cloneMap(metadata)
	}

	f.objects[dst] = newObj
	return nil
}

func (f *fakeStore) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	delete(f.objects, key)
	f.mu.Unlock()

	return nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "signed://" + key + "?ttl=" + ttl.String(), nil
}

type fakeInvalidator struct{}

func (fakeInvalidator) InvalidateListCache(context.Context, string) error { return nil }
func (fakeInvalidator) InvalidateThumbnailCacheForObjectKey(context.Context, string, string) error {
	return nil
}

func newService() (*objectsvc.Service, *fakeStore) {
	store := newFakeStore()
	svc := objectsvc.New(store, fakeSigner{}, fakeInvalidator{}, time.Hour)
	return svc, store
}

func TestFindReturnsDecodedMetadata(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/a.txt", bytes.NewReader([]byte("x")), 1, map[string]string{"custom-name": "hi"}))

	stat, err := svc.Find(ctx, "u1", "a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(1), stat.Size)
	require.Equal(t, "hi", stat.Metadata["CustomName"])
}

func TestFindMissingReturnsNotFound(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Find(context.Background(), "u1", "missing.txt")
	require.Error(t, err)
}

func TestGetPresignedUrlClampsTTL(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/a.txt", bytes.NewReader([]byte("x")), 1, nil))

	url, err := svc.GetPresignedUrl(ctx, "u1", "a.txt", 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, "signed://u1/a.txt?ttl=1h0m0s", url)
}

func TestGetPresignedUrlMissingFails(t *testing.T) {
	svc, _ := newService()
	_, err := svc.GetPresignedUrl(context.Background(), "u1", "missing.txt", time.Minute)
	require.Error(t, err)
}

func TestMoveCopiesAndDeletesSources(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/a.txt", bytes.NewReader([]byte("x")), 1, nil))
	require.NoError(t, store.PutObject(ctx, "u1/b.txt", bytes.NewReader([]byte("y")), 1, nil))

	require.NoError(t, svc.Move(ctx, "u1", []string{"a.txt", "b.txt"}, "archive"))

	_, ok := store.objects["u1/a.txt"]
	require.False(t, ok)

	_, ok = store.objects["u1/archive/a.txt"]
	require.True(t, ok)

	_, ok = store.objects["u1/archive/b.txt"]
	require.True(t, ok)
}

func TestDeleteRemovesItemsAndSkipsPlaceholders(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/a.txt", bytes.NewReader([]byte("x")), 1, nil))
	require.NoError(t, store.PutObject(ctx, "u1/dir/.emptyFolderPlaceholder", bytes.NewReader(nil), 0, nil))

	require.NoError(t, svc.Delete(ctx, "u1", []string{"a.txt", "dir/.emptyFolderPlaceholder"}))

	_, ok := store.objects["u1/a.txt"]
	require.False(t, ok)

	_, ok = store.objects["u1/dir/.emptyFolderPlaceholder"]
	require.True(t, ok)
}

func TestUpdateRenameOnly(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/a.txt", bytes.NewReader([]byte("x")), 1, nil))

	stat, err := svc.Update(ctx, "u1", objectsvc.UpdateRequest{Key: "a.txt", NewName: "b.txt"})
	require.NoError(t, err)
	require.Equal(t, "u1/b.txt", stat.Key)

	_, ok := store.objects["u1/a.txt"]
	require.False(t, ok)

	_, ok = store.objects["u1/b.txt"]
	require.True(t, ok)
}

func TestUpdateMetadataMergesWithExisting(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/a.txt", bytes.NewReader([]byte("x")), 1, map[string]string{"keep": "me"}))

	_, err := svc.Update(ctx, "u1", objectsvc.UpdateRequest{Key: "a.txt", Metadata: map[string]string{"added": "yes"}})
	require.NoError(t, err)

	stat, err := svc.Find(ctx, "u1", "a.txt")
	require.NoError(t, err)
	require.Equal(t, "me", stat.Metadata["Keep"])
	require.Equal(t, "yes", stat.Metadata["Added"])
}
