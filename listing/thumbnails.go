package listing

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "bmp": true,
}

const maxThumbnailGroups = 4
const maxThumbnailsPerGroup = 4

func thumbnailCacheKey(signed bool, owner, prefix string) string {
	mode := "public"
	if signed {
		mode = "signed"
	}

	return "cloud:dir-thumbnails:" + mode + ":" + owner + ":" + prefix
}

// DirectoryThumbnails collects up to four images per up to four sub-folder
// groups under prefix and returns at most four thumbnails in total, taken
// round-robin across the groups.
func (e *Engine) DirectoryThumbnails(ctx context.Context, owner, prefix string, signed bool, presignTTL time.Duration) ([]ObjectRecord, error) {
	key := thumbnailCacheKey(signed, owner, prefix)

	var cached []ObjectRecord
	if ok, err := e.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	fullPrefix := storagekey.JoinKey(owner, prefix)
	if fullPrefix != "" {
		fullPrefix += "/"
	}

	groups := make(map[string][]ObjectRecord)
	var groupOrder []string

	continuation := ""
	for {
		page, err := e.store.ListV2(ctx, fullPrefix, "", "", continuation, maxPageSize)
		if err != nil {
			return nil, cverr.Wrap(err, cverr.KindInternal, "scanning for thumbnails")
		}

		for _, o := range page.Objects {
			rel := strings.TrimPrefix(o.Key, fullPrefix)
			if rel == "" || storagekey.IsPlaceholder(rel) || storagekey.IsUnderSecure(rel) {
				continue
			}

			ext := strings.ToLower(strings.TrimPrefix(path.Ext(rel), "."))
			if !imageExtensions[ext] {
				continue
			}

			group := "."
			if idx := strings.Index(rel, "/"); idx >= 0 {
				group = rel[:idx]
			}

			if _, seen := groups[group]; !seen {
				if len(groupOrder) >= maxThumbnailGroups {
					continue
				}

				groupOrder = append(groupOrder, group)
			}

			if len(groups[group]) >= maxThumbnailsPerGroup {
				continue
			}

			groups[group] = append(groups[group], e.buildObjectModel(ctx, o, rel, Options{Signed: signed, PresignTTL: presignTTL}))
		}

		if !page.IsTruncated || page.NextContinuation == "" {
			break
		}

		continuation = page.NextContinuation
	}

	result := roundRobinSample(groupOrder, groups, maxThumbnailGroups)

	ttl := e.cacheTTL
	if signed && presignTTL > 0 {
		bound := presignTTL - 60*time.Second
		if bound > 0 && bound < ttl {
			ttl = bound
		}
	}

	_ = e.cache.Set(ctx, key, result, ttl)

	return result, nil
}

// roundRobinSample rotates across order, taking one image at a time from
// each non-exhausted group, until limit images are collected or every group
// is exhausted.
func roundRobinSample(order []string, groups map[string][]ObjectRecord, limit int) []ObjectRecord {
	var out []ObjectRecord
	idx := 0

	for len(out) < limit {
		progressed := false

		for _, g := range order {
			if idx < len(groups[g]) {
				out = append(out, groups[g][idx])
				progressed = true

				if len(out) == limit {
					return out
				}
			}
		}

		if !progressed {
			break
		}

		idx++
	}

	return out
}

// InvalidateDirectoryThumbnailCache invalidates the thumbnail cache for dir
// and every ancestor of dir (a new/removed image changes what an ancestor's
// thumbnail sampling would pick up).
func (e *Engine) InvalidateDirectoryThumbnailCache(ctx context.Context, owner, dir string) error {
	for _, p := range ancestorsInclusive(dir) {
		if _, err := e.cache.DeleteByPattern(ctx, "cloud:dir-thumbnails:*:"+owner+":"+p); err != nil {
			return err
		}
	}

	return nil
}

// InvalidateThumbnailCacheForObjectKey invalidates the thumbnail cache for
// every ancestor directory of an owner-relative object key.
func (e *Engine) InvalidateThumbnailCacheForObjectKey(ctx context.Context, owner, key string) error {
	dir := path.Dir(storagekey.NormalizeDir(key))
	if dir == "." {
		dir = ""
	}

	return e.InvalidateDirectoryThumbnailCache(ctx, owner, dir)
}

func ancestorsInclusive(dir string) []string {
	dir = storagekey.NormalizeDir(dir)
	if dir == "" {
		return []string{""}
	}

	segs := strings.Split(dir, "/")
	out := make([]string, 0, len(segs)+1)
	out = append(out, "")

	for i := range segs {
		out = append(out, strings.Join(segs[:i+1], "/"))
	}

	return out
}
