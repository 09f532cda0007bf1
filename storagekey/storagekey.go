// Package storagekey normalizes user-supplied paths into storage keys under
// an owner prefix, and validates the paths that cross a trust boundary
// (archive entry names, rename targets). Nothing here touches the object
// store; it is pure string manipulation, grounded the same way
// blob/storage.go keeps ID formatting free of any transport concern.
package storagekey

import (
	"path"
	"strings"

	"github.com/cloudvault/core/cverr"
)

// NormalizeDir trims leading/trailing slashes and collapses internal
// doubled slashes, returning "" for the root.
func NormalizeDir(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}

	segs := splitNonEmpty(p)
	return strings.Join(segs, "/")
}

// JoinKey normalizes each part and joins them with "/", skipping empty
// parts produced by normalization.
func JoinKey(parts ...string) string {
	var segs []string
	for _, p := range parts {
		n := NormalizeDir(p)
		if n != "" {
			segs = append(segs, n)
		}
	}

	return strings.Join(segs, "/")
}

// KeyBuilder returns a function that prefixes any key with owner, the way
// every storage key in the design is namespaced under "{ownerId}/".
func KeyBuilder(owner string) func(parts ...string) string {
	return func(parts ...string) string {
		return JoinKey(append([]string{owner}, parts...)...)
	}
}

// OwnerPrefix returns the "{owner}/" prefix every key belonging to owner
// must start with.
func OwnerPrefix(owner string) string {
	return NormalizeDir(owner) + "/"
}

// NormalizeArchiveEntryPath validates and normalizes an archive entry path.
// It rejects empty paths, absolute paths, and any path containing a ".."
// segment (directory traversal). ok is false when the entry should be
// skipped rather than extracted.
func NormalizeArchiveEntryPath(p string) (normalized string, ok bool) {
	if p == "" {
		return "", false
	}

	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return "", false
	}

	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if seg == ".." {
			return "", false
		}
	}

	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if cleaned == "." || cleaned == "/" {
		return "", false
	}

	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." || seg == "" {
			return "", false
		}
	}

	return strings.TrimPrefix(cleaned, "/"), true
}

// ValidateLeafName rejects a rename/create target leaf that contains a
// path separator; leaf names must name a single segment, not a path.
func ValidateLeafName(name string) error {
	if name == "" {
		return cverr.BadRequest("name must not be empty")
	}

	if strings.ContainsAny(name, "/\\") {
		return cverr.BadRequest("name %q must not contain a path separator", name)
	}

	return nil
}

// BuildArchiveExtractPrefix strips ext (the archive format's canonical
// extension, e.g. ".zip", ".tar.gz") from the archive's key and returns the
// directory the extracted tree is placed under, alongside the archive
// itself.
func BuildArchiveExtractPrefix(key, ext string) string {
	dir, base := path.Split(NormalizeDir(key))
	base = strings.TrimSuffix(base, ext)
	return JoinKey(dir, base)
}

// IsUnderSecure reports whether key falls under the owner's reserved
// ".secure/" namespace, which is never surfaced in user-facing listings.
func IsUnderSecure(ownerRelativeKey string) bool {
	n := NormalizeDir(ownerRelativeKey)
	return n == ".secure" || strings.HasPrefix(n, ".secure/")
}

// IsPlaceholder reports whether the last segment of key is the synthetic
// empty-directory marker.
func IsPlaceholder(key string) bool {
	return strings.HasSuffix(key, "/.emptyFolderPlaceholder") || key == ".emptyFolderPlaceholder"
}

func splitNonEmpty(p string) []string {
	raw := strings.Split(p, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return segs
}
