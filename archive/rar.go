package archive

import (
	"context"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/nwaples/rardecode/v2"

	"github.com/cloudvault/core/cverr"
)

// RarHandler reads the entire archive into memory (via an mmap'd temp file,
// bounded by MaxBufferBytes) before enumerating, then feeds the mapped bytes
// to rardecode as a sequential reader. The buffered size is the compressed
// size used by the compression-ratio check. RAR creation is not supported.
type RarHandler struct {
	MaxBufferBytes int64
}

func (RarHandler) Format() string         { return "rar" }
func (RarHandler) Extensions() []string   { return []string{".rar"} }
func (RarHandler) SupportsCreation() bool { return false }

func (h RarHandler) bufferLimit() int64 {
	if h.MaxBufferBytes > 0 {
		return h.MaxBufferBytes
	}

	return 512 << 20
}

// bufferToTempFile copies stream into a temp file and mmaps it read-only,
// returning the mapping and a cleanup func the caller must invoke.
func (h RarHandler) bufferToTempFile(stream io.Reader) (mmap.MMap, func(), error) {
	f, err := os.CreateTemp("", "cloudvault-rar-*")
	if err != nil {
		return nil, nil, cverr.Wrap(err, cverr.KindInternal, "creating rar staging file")
	}

	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	n, err := io.CopyN(f, stream, h.bufferLimit()+1)
	if err != nil && err != io.EOF {
		cleanup()
		return nil, nil, cverr.Wrap(err, cverr.KindInternal, "buffering rar stream")
	}

	if n > h.bufferLimit() {
		cleanup()
		return nil, nil, cverr.BadRequest("rar archive exceeds max buffer size %d", h.bufferLimit())
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		cleanup()
		return nil, nil, cverr.Wrap(err, cverr.KindInternal, "mapping rar staging file")
	}

	return m, func() {
		m.Unmap()
		cleanup()
	}, nil
}

func (h RarHandler) ListEntries(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits) ([]Entry, error) {
	var entries []Entry

	err := h.walk(ctx, stream, totalBytes, limits, ExtractOptions{}, func(_ context.Context, e Entry) error {
		entries = append(entries, Entry{Path: e.Path, Type: e.Type, Size: e.Size})
		return nil
	})

	return entries, err
}

func (h RarHandler) Extract(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) error {
	return h.walk(ctx, stream, totalBytes, limits, opts, onEntry)
}

func (h RarHandler) walk(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits, opts ExtractOptions, onEntry OnEntry) error {
	buf, cleanup, err := h.bufferToTempFile(stream)
	if err != nil {
		return err
	}
	defer cleanup()

	rr, err := rardecode.NewReader(bytesReaderFrom(buf))
	if err != nil {
		return cverr.Wrap(err, cverr.KindBadRequest, "malformed rar archive")
	}

	var totalUncompressed int64
	compressed := int64(len(buf))

	count := 0

	for {
		if cancelled(opts) {
			return cverr.BadRequest("archive extract cancelled")
		}

		hdr, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return cverr.Wrap(err, cverr.KindBadRequest, "malformed rar entry")
		}

		count++
		if err := checkEntryCount(count, limits); err != nil {
			return err
		}

		path, ok := normalizeEntryPath(hdr.Name)
		if !ok {
			continue
		}

		size := hdr.UnPackedSize
		if err := checkEntrySize(size, limits); err != nil {
			return err
		}

		totalUncompressed += size
		if err := checkTotalSize(totalUncompressed, limits); err != nil {
			return err
		}

		if err := checkRatio(totalUncompressed, compressed, limits); err != nil {
			return err
		}

		entry := Entry{Path: path, Size: size, Type: FileEntry}

		if hdr.IsDir {
			entry.Type = DirectoryEntry
			if err := onEntry(ctx, entry); err != nil {
				return err
			}

			continue
		}

		entry.Stream = rr
		if err := onEntry(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func (RarHandler) Create(ctx context.Context, entries []CreateEntry, getStream GetStream, output io.Writer, opts CreateOptions) error {
	return cverr.BadRequest("rar archive creation is not supported")
}

type byteReaderAt struct {
	data []byte
	pos  int
}

func bytesReaderFrom(b []byte) io.Reader {
	return &byteReaderAt{data: b}
}

func (r *byteReaderAt) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}
