// Package archive implements the format-polymorphic handler registry used
// by the archive orchestrator: list/extract/create over ZIP, TAR, TAR.GZ,
// and RAR (preview/extract only), each subject to a shared safety-limits
// envelope. Grounded on kopia's cli/command_restore.go zip/tar writer
// construction, generalized from a one-shot CLI restore into a reusable,
// streaming, limit-enforcing handler interface.
package archive

import (
	"context"
	"io"
	"strings"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

// EntryType distinguishes a regular file entry from a directory entry
// within an archive.
type EntryType string

const (
	FileEntry      EntryType = "file"
	DirectoryEntry EntryType = "directory"
)

// Entry is one archive member delivered to a ListEntries/Extract callback.
type Entry struct {
	Path   string
	Type   EntryType
	Size   int64
	Stream io.Reader // nil for directory entries
}

// Limits is the safety envelope every extract enforces.
type Limits struct {
	MaxEntries          int
	MaxEntryBytes       int64
	MaxTotalBytes       int64
	MaxCompressionRatio float64
}

// ExtractOptions configures a single Extract call.
type ExtractOptions struct {
	ShouldCancel func() bool
}

// OnEntry is invoked for every archive member in source order. Returning an
// error aborts the remainder of the extract.
type OnEntry func(ctx context.Context, entry Entry) error

// CreateEntry identifies one source object to place into a created archive.
type CreateEntry struct {
	ArchivePath string // path to store the entry at inside the archive
	Size        int64
}

// GetStream lazily opens the body for one CreateEntry's ArchivePath.
type GetStream func(ctx context.Context, archivePath string) (io.ReadCloser, error)

// CreateOptions configures a single Create call.
type CreateOptions struct {
	ShouldCancel func() bool
	OnProgress   func(entriesDone int, bytesDone int64)
}

// Handler is the polymorphic per-format archive engine.
type Handler interface {
	Format() string
	Extensions() []string
	SupportsCreation() bool
	ListEntries(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits) ([]Entry, error)
	Extract(ctx context.Context, stream io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) error
	Create(ctx context.Context, entries []CreateEntry, getStream GetStream, output io.Writer, opts CreateOptions) error
}

// Registry maps a format name or file extension to its Handler.
type Registry struct {
	byFormat    map[string]Handler
	byExtension map[string]Handler
}

// NewRegistry builds a Registry from handlers, indexing each by its Format()
// and every entry in Extensions().
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{byFormat: map[string]Handler{}, byExtension: map[string]Handler{}}

	for _, h := range handlers {
		r.byFormat[h.Format()] = h
		for _, ext := range h.Extensions() {
			r.byExtension[strings.ToLower(ext)] = h
		}
	}

	return r
}

// ByFormat looks up a handler by explicit format name.
func (r *Registry) ByFormat(format string) (Handler, error) {
	h, ok := r.byFormat[format]
	if !ok {
		return nil, cverr.BadRequest("unsupported archive format %q", format)
	}

	return h, nil
}

// ByExtension detects a handler from a file name's extension (the longest
// matching registered suffix, so ".tar.gz" is preferred over ".gz").
func (r *Registry) ByExtension(name string) (Handler, error) {
	lower := strings.ToLower(name)

	var best Handler
	var bestLen int

	for ext, h := range r.byExtension {
		if strings.HasSuffix(lower, ext) && len(ext) > bestLen {
			best = h
			bestLen = len(ext)
		}
	}

	if best == nil {
		return nil, cverr.BadRequest("could not detect archive format for %q", name)
	}

	return best, nil
}

// checkRatio aborts once uncompressed/compressed exceeds limits.MaxCompressionRatio.
func checkRatio(uncompressed, compressed int64, limits Limits) error {
	if limits.MaxCompressionRatio <= 0 || compressed == 0 {
		return nil
	}

	ratio := float64(uncompressed) / float64(compressed)
	if ratio > limits.MaxCompressionRatio {
		return cverr.BadRequest("archive compression ratio %.1f exceeds limit %.1f", ratio, limits.MaxCompressionRatio)
	}

	return nil
}

func checkEntryCount(count int, limits Limits) error {
	if limits.MaxEntries > 0 && count > limits.MaxEntries {
		return cverr.BadRequest("archive entry count %d exceeds limit %d", count, limits.MaxEntries)
	}

	return nil
}

func checkEntrySize(size int64, limits Limits) error {
	if limits.MaxEntryBytes > 0 && size > limits.MaxEntryBytes {
		return cverr.BadRequest("archive entry size %d exceeds limit %d", size, limits.MaxEntryBytes)
	}

	return nil
}

func checkTotalSize(total int64, limits Limits) error {
	if limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes {
		return cverr.BadRequest("archive total uncompressed size %d exceeds limit %d", total, limits.MaxTotalBytes)
	}

	return nil
}

// normalizeEntryPath rejects an archive member path that is absolute, empty,
// or contains ".." segments; safe paths are returned cleaned.
func normalizeEntryPath(p string) (string, bool) {
	return storagekey.NormalizeArchiveEntryPath(p)
}

func cancelled(opts ExtractOptions) bool {
	return opts.ShouldCancel != nil && opts.ShouldCancel()
}
