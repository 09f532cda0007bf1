package listing

import (
	"context"
	"path"
	"strings"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

// SearchRequest is a single SearchObjects call.
type SearchRequest struct {
	Query     string
	Path      string
	Extension string
	Skip      int
	Take      int
}

// SearchResult is a matched directory or file, folded into one slice in
// discovery order (directories first per enclosing-path insertion order,
// then matched files), mirroring the design's single accumulated result
// list.
type SearchResult struct {
	IsDirectory bool
	Path        string
	Object      *ObjectRecord
}

// SearchObjects scans (bounded by a global cap) every key under
// {owner}/{path}/, matching directory names in the enclosing path and file
// names/extensions against query. It returns totalCount (file matches) and
// totalDirectoryCount (directory-name matches, counted once each even when
// multiple children under a matched directory also match) separately, since
// a directory match and a file match are distinct kinds of result.
func (e *Engine) SearchObjects(ctx context.Context, owner string, req SearchRequest, opts Options, scanCap int) ([]SearchResult, int, int, error) {
	if len(req.Query) < 2 {
		return nil, 0, 0, cverr.BadRequest("search query must be at least 2 characters")
	}

	query := strings.ToLower(req.Query)
	ext := strings.ToLower(strings.TrimPrefix(req.Extension, "."))

	fullPrefix := storagekey.JoinKey(owner, req.Path)
	if fullPrefix != "" {
		fullPrefix += "/"
	}

	matchedDirs := map[string]bool{}
	var dirOrder []string
	var results []SearchResult
	total := 0
	scanned := 0

	continuation := ""
	for {
		page, err := e.store.ListV2(ctx, fullPrefix, "", "", continuation, maxPageSize)
		if err != nil {
			return nil, 0, 0, cverr.Wrap(err, cverr.KindInternal, "scanning for search")
		}

		for _, o := range page.Objects {
			if scanned >= scanCap {
				break
			}
			scanned++

			rel := strings.TrimPrefix(o.Key, fullPrefix)
			if rel == "" || storagekey.IsUnderSecure(rel) {
				continue
			}

			dir := path.Dir(rel)
			if dir != "." {
				e.matchEnclosingDirs(dir, query, opts, matchedDirs, &dirOrder)
			}

			if storagekey.IsPlaceholder(rel) {
				continue
			}

			name := path.Base(rel)
			if !strings.Contains(strings.ToLower(name), query) {
				continue
			}

			if ext != "" {
				fext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
				if fext != ext {
					continue
				}
			}

			total++
			if total > req.Skip && len(results) < req.Take {
				rec := e.buildObjectModel(ctx, o, rel, opts)
				results = append(results, SearchResult{Path: rel, Object: &rec})
			}
		}

		if scanned >= scanCap || !page.IsTruncated || page.NextContinuation == "" {
			break
		}

		continuation = page.NextContinuation
	}

	dirResults := make([]SearchResult, 0, len(dirOrder))
	for _, d := range dirOrder {
		dirResults = append(dirResults, SearchResult{IsDirectory: true, Path: d})
	}

	return append(dirResults, results...), total, len(dirOrder), nil
}

// matchEnclosingDirs tests every enclosing directory segment of dir against
// query, skipping encrypted directories the caller has no unlocked session
// for (an encrypted directory name must never leak through search).
func (e *Engine) matchEnclosingDirs(dir, query string, opts Options, seen map[string]bool, order *[]string) {
	segs := strings.Split(dir, "/")

	for i := range segs {
		rel := strings.Join(segs[:i+1], "/")
		if seen[rel] {
			continue
		}

		isEnc, isLocked, isHidden, isConcealed := opts.Access.classify(rel)
		if (isEnc && isLocked) || (isHidden && isConcealed) {
			continue
		}

		seen[rel] = true

		if strings.Contains(strings.ToLower(segs[i]), query) {
			*order = append(*order, rel)
		}
	}
}
