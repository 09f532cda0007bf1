package directory_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/directory"
	"github.com/cloudvault/core/kv"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[key]
	if !ok {
		return nil, errNotFound{}
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func (f *fakeObjectStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string, _ map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()

	return nil
}

func (f *fakeObjectStore) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	delete(f.objects, key)
	f.mu.Unlock()

	return nil
}

func (f *fakeObjectStore) CopyObject(_ context.Context, src, dst string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[src]
	if !ok {
		return errNotFound{}
	}

	f.objects[dst] = data
	return nil
}

func (f *fakeObjectStore) ListV2(_ context.Context, prefix, _ string, _ string, _ string, _ int) (directory.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var objs []directory.ObjectStat
	for _, k := range keys {
		objs = append(objs, directory.ObjectStat{Key: k, Size: int64(len(f.objects[k]))})
	}

	return directory.Page{Objects: objs}, nil
}

type fakeUsage struct {
	decremented int64
}

func (f *fakeUsage) Decrement(_ context.Context, _ string, delta int64) error {
	f.decremented += delta
	return nil
}

type fakeInvalidator struct{}

func (fakeInvalidator) InvalidateListCache(context.Context, string) error { return nil }
func (fakeInvalidator) InvalidateDirectoryThumbnailCache(context.Context, string, string) error {
	return nil
}

func newService() (*directory.Service, *fakeObjectStore, *fakeUsage) {
	store := newFakeObjectStore()
	usage := &fakeUsage{}
	svc := directory.New(store, kv.NewMemoryStore(), usage, fakeInvalidator{})
	return svc, store, usage
}

func TestCreateDirectoryWritesPlaceholder(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.CreateDirectory(ctx, "u1", "docs", false, ""))
	_, ok := store.objects["u1/docs/.emptyFolderPlaceholder"]
	require.True(t, ok)
}

func TestCreateEncryptedDirectoryRequiresPassphrase(t *testing.T) {
	svc, _, _ := newService()
	err := svc.CreateDirectory(context.Background(), "u1", "vault", true, "short")
	require.Error(t, err)
}

func TestEncryptUnlockValidateLockCycle(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.CreateDirectory(ctx, "u1", "vault", true, "correct-horse"))

	token, _, err := svc.Unlock(ctx, "u1", "vault", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ok, err := svc.ValidateSession(ctx, directory.EncryptedSession, "u1", "vault", token)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Lock(ctx, "u1", "vault"))

	ok, err = svc.ValidateSession(ctx, directory.EncryptedSession, "u1", "vault", token)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnlockWrongPassphraseFails(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.CreateDirectory(ctx, "u1", "vault", true, "correct-horse"))
	_, _, err := svc.Unlock(ctx, "u1", "vault", "wrong-pass")
	require.Error(t, err)
}

func TestCheckAccessDeniesWithoutToken(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.CreateDirectory(ctx, "u1", "vault", true, "correct-horse"))
	err := svc.CheckAccess(ctx, "u1", "vault/inner.txt", "")
	require.Error(t, err)
}

func TestCheckAccessAllowsWithValidToken(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.CreateDirectory(ctx, "u1", "vault", true, "correct-horse"))
	token, _, err := svc.Unlock(ctx, "u1", "vault", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, svc.CheckAccess(ctx, "u1", "vault", token))
}

func TestDeleteDirectoryDecrementsUsage(t *testing.T) {
	svc, store, usage := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/docs/a.txt", bytes.NewReader([]byte("hello")), 5, "", nil))
	require.NoError(t, store.PutObject(ctx, "u1/docs/b.txt", bytes.NewReader([]byte("world!")), 6, "", nil))

	require.NoError(t, svc.Delete(ctx, "u1", "docs", ""))
	require.Equal(t, int64(11), usage.decremented)
	require.Empty(t, store.objects)
}

func TestRenameDirectoryMovesObjects(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/src/a.txt", bytes.NewReader([]byte("x")), 1, "", nil))

	require.NoError(t, svc.RenameDirectory(ctx, "u1", "src", "dst", false))

	_, srcExists := store.objects["u1/src/a.txt"]
	require.False(t, srcExists)

	_, dstExists := store.objects["u1/dst/a.txt"]
	require.True(t, dstExists)
}

func TestRenameDirectoryConflictsOnExistingTarget(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/src/a.txt", bytes.NewReader([]byte("x")), 1, "", nil))
	require.NoError(t, store.PutObject(ctx, "u1/dst/b.txt", bytes.NewReader([]byte("y")), 1, "", nil))

	err := svc.RenameDirectory(ctx, "u1", "src", "dst", false)
	require.Error(t, err)
}

func TestRenameEncryptedDirectoryRejectedWithoutAllow(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.CreateDirectory(ctx, "u1", "vault", true, "correct-horse"))
	err := svc.RenameDirectory(ctx, "u1", "vault", "vault2", false)
	require.Error(t, err)
}

func TestEstimateSize(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	require.NoError(t, store.PutObject(ctx, "u1/docs/a.txt", bytes.NewReader([]byte("hello")), 5, "", nil))

	count, total, err := svc.EstimateSize(ctx, "u1", "docs")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(5), total)
}

func TestRevealDescendantHiddenFolder(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Hide(ctx, "u1", "docs/secret", "hide-me-now"))

	token, _, err := svc.Reveal(ctx, "u1", "docs", "hide-me-now")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestRevealUnlocksEveryMatchingDescendant(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Hide(ctx, "u1", "docs/secret", "hide-me-now"))
	require.NoError(t, svc.Hide(ctx, "u1", "docs/other-secret", "hide-me-now"))

	token, _, err := svc.Reveal(ctx, "u1", "docs", "hide-me-now")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ok, err := svc.ValidateSession(ctx, directory.HiddenSession, "u1", "docs/secret", token)
	require.NoError(t, err)
	require.True(t, ok, "first descendant matching the passphrase must be unlocked")

	ok, err = svc.ValidateSession(ctx, directory.HiddenSession, "u1", "docs/other-secret", token)
	require.NoError(t, err)
	require.True(t, ok, "second descendant matching the same passphrase must also be unlocked")
}
