package archive_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/archive"
)

func TestRegistryDetectsHandlerByExtension(t *testing.T) {
	reg := archive.NewRegistry(archive.ZipHandler{}, archive.TarHandler{}, archive.TarGzHandler{}, archive.RarHandler{})

	h, err := reg.ByExtension("photos.tar.gz")
	require.NoError(t, err)
	require.Equal(t, "tar.gz", h.Format())

	h, err = reg.ByExtension("photos.zip")
	require.NoError(t, err)
	require.Equal(t, "zip", h.Format())

	_, err = reg.ByExtension("photos.xyz")
	require.Error(t, err)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestZipExtractDeliversEntriesInOrder(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "hello", "b.txt": "world"})

	var seen []string
	err := archive.ZipHandler{}.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), archive.Limits{}, func(ctx context.Context, e archive.Entry) error {
		seen = append(seen, e.Path)
		return nil
	}, archive.ExtractOptions{})

	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var want []string
	for _, f := range zr.File {
		want = append(want, f.Name)
	}

	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, seen)
	require.Equal(t, want, seen)
}

func TestZipExtractSkipsUnsafePaths(t *testing.T) {
	data := buildZip(t, map[string]string{"../evil.txt": "bad", "safe.txt": "ok"})

	var seen []string
	err := archive.ZipHandler{}.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), archive.Limits{}, func(ctx context.Context, e archive.Entry) error {
		seen = append(seen, e.Path)
		return nil
	}, archive.ExtractOptions{})

	require.NoError(t, err)
	require.Equal(t, []string{"safe.txt"}, seen)
}

func TestZipExtractEnforcesMaxEntries(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "1", "b.txt": "2", "c.txt": "3"})

	err := archive.ZipHandler{}.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), archive.Limits{MaxEntries: 2}, func(ctx context.Context, e archive.Entry) error {
		return nil
	}, archive.ExtractOptions{})

	require.Error(t, err)
}

func TestZipExtractHonoursCancellation(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "1", "b.txt": "2"})

	calls := 0
	err := archive.ZipHandler{}.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), archive.Limits{}, func(ctx context.Context, e archive.Entry) error {
		calls++
		return nil
	}, archive.ExtractOptions{ShouldCancel: func() bool { return true }})

	require.Error(t, err)
	require.Equal(t, 0, calls)
}

func TestZipCreateRoundTrips(t *testing.T) {
	entries := []archive.CreateEntry{{ArchivePath: "a.txt", Size: 5}}

	getStream := func(ctx context.Context, path string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("hello"))), nil
	}

	var out bytes.Buffer
	require.NoError(t, archive.ZipHandler{}.Create(context.Background(), entries, getStream, &out, archive.CreateOptions{}))

	zr, err := zip.NewReader(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	require.Equal(t, "a.txt", zr.File[0].Name)
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Typeflag: tar.TypeReg, Mode: 0o644}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestTarExtractDeliversEntries(t *testing.T) {
	data := buildTar(t, map[string]string{"a.txt": "hello"})

	var seen []string
	err := archive.TarHandler{}.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), archive.Limits{}, func(ctx context.Context, e archive.Entry) error {
		seen = append(seen, e.Path)
		body, rerr := io.ReadAll(e.Stream)
		require.NoError(t, rerr)
		require.Equal(t, "hello", string(body))
		return nil
	}, archive.ExtractOptions{})

	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, seen)
}

func TestTarExtractEnforcesMaxEntryBytes(t *testing.T) {
	data := buildTar(t, map[string]string{"a.txt": "0123456789"})

	err := archive.TarHandler{}.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), archive.Limits{MaxEntryBytes: 5}, func(ctx context.Context, e archive.Entry) error {
		return nil
	}, archive.ExtractOptions{})

	require.Error(t, err)
}

func TestTarCreateRoundTrips(t *testing.T) {
	entries := []archive.CreateEntry{{ArchivePath: "a.txt", Size: 5}}

	getStream := func(ctx context.Context, path string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("hello"))), nil
	}

	var out bytes.Buffer
	require.NoError(t, archive.TarHandler{}.Create(context.Background(), entries, getStream, &out, archive.CreateOptions{}))

	tr := tar.NewReader(bytes.NewReader(out.Bytes()))
	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, "a.txt", hdr.Name)
}

func TestTarGzRoundTrips(t *testing.T) {
	entries := []archive.CreateEntry{{ArchivePath: "a.txt", Size: 5}}

	getStream := func(ctx context.Context, path string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("hello"))), nil
	}

	var out bytes.Buffer
	h := archive.TarGzHandler{}
	require.NoError(t, h.Create(context.Background(), entries, getStream, &out, archive.CreateOptions{}))

	var seen []string
	err := h.Extract(context.Background(), bytes.NewReader(out.Bytes()), int64(out.Len()), archive.Limits{}, func(ctx context.Context, e archive.Entry) error {
		seen = append(seen, e.Path)
		return nil
	}, archive.ExtractOptions{})

	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, seen)
}

func TestRarCreateUnsupported(t *testing.T) {
	err := archive.RarHandler{}.Create(context.Background(), nil, nil, &bytes.Buffer{}, archive.CreateOptions{})
	require.Error(t, err)
}
