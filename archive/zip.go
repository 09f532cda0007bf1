package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/cloudvault/core/cverr"
)

// ZipHandler streams zip.Reader entries one at a time. archive/zip requires
// an io.ReaderAt, so the source stream is buffered into memory first (bound
// by Limits.MaxTotalBytes, checked while buffering).
type ZipHandler struct{}

func (ZipHandler) Format() string         { return "zip" }
func (ZipHandler) Extensions() []string   { return []string{".zip"} }
func (ZipHandler) SupportsCreation() bool { return true }

func bufferWithLimit(stream io.Reader, totalBytes int64, limits Limits) ([]byte, error) {
	capHint := totalBytes
	if limits.MaxTotalBytes > 0 && (capHint <= 0 || capHint > limits.MaxTotalBytes) {
		capHint = limits.MaxTotalBytes
	}

	var buf bytes.Buffer
	if capHint > 0 {
		buf.Grow(int(capHint))
	}

	limit := limits.MaxTotalBytes
	if limit <= 0 {
		limit = 1 << 40 // effectively unbounded when the caller sets no limit
	}

	n, err := io.CopyN(&buf, stream, limit+1)
	if err != nil && err != io.EOF {
		return nil, cverr.Wrap(err, cverr.KindInternal, "reading archive stream")
	}

	if n > limit {
		return nil, cverr.BadRequest("archive stream exceeds max total bytes %d", limit)
	}

	return buf.Bytes(), nil
}

func (ZipHandler) ListEntries(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits) ([]Entry, error) {
	var entries []Entry

	err := walkZip(ctx, stream, totalBytes, limits, ExtractOptions{}, func(_ context.Context, e Entry) error {
		entries = append(entries, Entry{Path: e.Path, Type: e.Type, Size: e.Size})
		return nil
	})

	return entries, err
}

func (ZipHandler) Extract(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) error {
	return walkZip(ctx, stream, totalBytes, limits, opts, onEntry)
}

func walkZip(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits, opts ExtractOptions, onEntry OnEntry) error {
	data, err := bufferWithLimit(stream, totalBytes, limits)
	if err != nil {
		return err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return cverr.Wrap(err, cverr.KindBadRequest, "malformed zip archive")
	}

	if err := checkEntryCount(len(zr.File), limits); err != nil {
		return err
	}

	var totalUncompressed int64

	for _, f := range zr.File {
		if cancelled(opts) {
			return cverr.BadRequest("archive extract cancelled")
		}

		isDir := strings.HasSuffix(f.Name, "/")

		path, ok := normalizeEntryPath(f.Name)
		if !ok {
			continue // unsafe path segment: skip silently, continue processing
		}

		size := int64(f.UncompressedSize64)
		if err := checkEntrySize(size, limits); err != nil {
			return err
		}

		totalUncompressed += size
		if err := checkTotalSize(totalUncompressed, limits); err != nil {
			return err
		}

		if err := checkRatio(totalUncompressed, int64(len(data)), limits); err != nil {
			return err
		}

		entry := Entry{Path: path, Type: FileEntry, Size: size}

		if isDir {
			entry.Type = DirectoryEntry
			if err := onEntry(ctx, entry); err != nil {
				return err
			}

			continue
		}

		rc, err := f.Open()
		if err != nil {
			return cverr.Wrap(err, cverr.KindBadRequest, "opening zip entry")
		}

		entry.Stream = rc
		err = onEntry(ctx, entry)
		rc.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

func (ZipHandler) Create(ctx context.Context, entries []CreateEntry, getStream GetStream, output io.Writer, opts CreateOptions) error {
	zw := zip.NewWriter(output)

	var bytesDone int64

	for i, e := range entries {
		if opts.ShouldCancel != nil && opts.ShouldCancel() {
			zw.Close()
			return cverr.BadRequest("archive create cancelled")
		}

		w, err := zw.Create(e.ArchivePath)
		if err != nil {
			return cverr.Wrap(err, cverr.KindInternal, "adding zip entry")
		}

		rc, err := getStream(ctx, e.ArchivePath)
		if err != nil {
			return cverr.Wrap(err, cverr.KindInternal, "opening source for zip entry")
		}

		n, err := io.Copy(w, rc)
		rc.Close()

		if err != nil {
			return cverr.Wrap(err, cverr.KindInternal, "writing zip entry")
		}

		bytesDone += n
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, bytesDone)
		}
	}

	if err := zw.Close(); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "finalizing zip archive")
	}

	return nil
}
