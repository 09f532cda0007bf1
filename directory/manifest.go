package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

type manifestKind string

const (
	encryptedManifestKind manifestKind = "encrypted-folders"
	hiddenManifestKind    manifestKind = "hidden-folders"
)

// folderEntry is one manifest record: a passphrase-wrapped 32-byte folder
// key plus the AES-GCM parameters needed to unwrap it.
type folderEntry struct {
	Ciphertext string    `json:"ciphertext"`
	IV         string    `json:"iv"`
	AuthTag    string    `json:"authTag"`
	Salt       string    `json:"salt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (e folderEntry) complete() bool {
	return e.Ciphertext != "" && e.IV != "" && e.AuthTag != "" && e.Salt != ""
}

type manifest struct {
	Folders map[string]folderEntry `json:"folders"`
}

func emptyManifest() manifest {
	return manifest{Folders: map[string]folderEntry{}}
}

func manifestObjectKey(owner string, kind manifestKind) string {
	return storagekey.JoinKey(owner, ".secure", string(kind)+".json")
}

func manifestCacheKey(owner string, kind manifestKind) string {
	return "cloud:" + string(kind) + "-manifest:" + owner
}

const manifestCacheTTL = 10 * time.Minute

// loadManifest loads the manifest object for owner/kind, caching the
// decoded result. A malformed JSON document or a missing object is treated
// as an empty manifest, never an error — per the design's "recovered
// locally" rule for manifest parsing.
func (s *Service) loadManifest(ctx context.Context, owner string, kind manifestKind) (manifest, error) {
	var cached manifest
	if ok, err := s.cache.Get(ctx, manifestCacheKey(owner, kind), &cached); err == nil && ok {
		return cached, nil
	}

	body, err := s.store.GetObject(ctx, manifestObjectKey(owner, kind))
	if err != nil {
		return emptyManifest(), nil
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return emptyManifest(), nil
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return emptyManifest(), nil
	}

	if m.Folders == nil {
		m.Folders = map[string]folderEntry{}
	}

	cleaned := manifest{Folders: map[string]folderEntry{}}
	for p, entry := range m.Folders {
		if !entry.complete() {
			continue
		}

		cleaned.Folders[storagekey.NormalizeDir(p)] = entry
	}

	_ = s.cache.Set(ctx, manifestCacheKey(owner, kind), cleaned, manifestCacheTTL)

	return cleaned, nil
}

// saveManifest writes the manifest object and drops the cache entry rather
// than overwriting it, so the next read repopulates from the authoritative
// object. PutObject against the object store is itself the atomic commit
// point; there is no local file in this path to stage.
func (s *Service) saveManifest(ctx context.Context, owner string, kind manifestKind, m manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "encoding manifest")
	}

	if err := s.store.PutObject(ctx, manifestObjectKey(owner, kind), bytes.NewReader(data), int64(len(data)), "application/json", nil); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "writing manifest object")
	}

	return s.cache.Delete(ctx, manifestCacheKey(owner, kind))
}

// nearestEncryptingAncestor returns the longest-matching encrypted ancestor
// path of p (including p itself), or "" if none.
func nearestEncryptingAncestor(m manifest, p string) string {
	p = storagekey.NormalizeDir(p)

	for {
		if _, ok := m.Folders[p]; ok {
			return p
		}

		idx := strings.LastIndex(p, "/")
		if idx < 0 {
			if p != "" {
				if _, ok := m.Folders[""]; ok {
					return ""
				}
			}

			return ""
		}

		p = p[:idx]
	}
}

// descendantsOf returns every manifest path that is p itself or nested
// under p.
func descendantsOf(m manifest, p string) []string {
	p = storagekey.NormalizeDir(p)

	var out []string
	for path := range m.Folders {
		if path == p || strings.HasPrefix(path, p+"/") {
			out = append(out, path)
		}
	}

	return out
}

// rewriteManifestsOnRename walks both manifests and rewrites any path that
// equals or is nested under src to the equivalent path under dst.
func (s *Service) rewriteManifestsOnRename(ctx context.Context, owner, src, dst string) error {
	for _, kind := range []manifestKind{encryptedManifestKind, hiddenManifestKind} {
		m, err := s.loadManifest(ctx, owner, kind)
		if err != nil {
			return err
		}

		changed := false
		next := manifest{Folders: map[string]folderEntry{}}

		for path, entry := range m.Folders {
			newPath := path
			if path == src {
				newPath = dst
				changed = true
			} else if strings.HasPrefix(path, src+"/") {
				newPath = dst + strings.TrimPrefix(path, src)
				changed = true
			}

			if newPath != path {
				entry.UpdatedAt = time.Now()
			}

			next.Folders[newPath] = entry
		}

		if changed {
			if err := s.saveManifest(ctx, owner, kind, next); err != nil {
				return err
			}
		}
	}

	return nil
}
