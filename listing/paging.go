package listing

import (
	"context"
	"strings"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

const maxPageSize = 1000

// PageRequest is the offset/limit pagination request shared by
// ListObjects/ListDirectories.
type PageRequest struct {
	Skip   int
	Take   int
	Search string // seeks via StartAfter
}

// PageResult carries the page plus the total count, computed by continuing
// to page through the underlying ListV2 scan until exhausted.
type PageResult struct {
	Objects     []ObjectRecord
	Directories []DirectoryRecord
	Total       int
}

// ListObjects paginates the flat (non-directory) entries under path.
func (e *Engine) ListObjects(ctx context.Context, owner, p string, opts Options, page PageRequest) (PageResult, error) {
	all, err := e.scanAll(ctx, owner, p, opts, page.Search)
	if err != nil {
		return PageResult{}, err
	}

	total := len(all.Objects)
	objs := windowObjects(all.Objects, page.Skip, page.Take)

	return PageResult{Objects: objs, Total: total}, nil
}

// ListDirectories paginates the directory entries under path.
func (e *Engine) ListDirectories(ctx context.Context, owner, p string, opts Options, page PageRequest) (PageResult, error) {
	all, err := e.scanAll(ctx, owner, p, opts, page.Search)
	if err != nil {
		return PageResult{}, err
	}

	total := len(all.Directories)
	dirs := windowDirectories(all.Directories, page.Skip, page.Take)

	return PageResult{Directories: dirs, Total: total}, nil
}

// scanAll pages through the full prefix (bypassing the single-page cache
// used by List, since pagination needs the complete set to compute Total),
// classifying directories/objects the same way List does.
func (e *Engine) scanAll(ctx context.Context, owner, p string, opts Options, startAfter string) (Result, error) {
	prefix := storagekey.JoinKey(owner, p)
	if prefix != "" {
		prefix += "/"
	}

	var dirs []DirectoryRecord
	var objs []ObjectRecord

	continuation := ""
	for {
		page, err := e.store.ListV2(ctx, prefix, "/", startAfter, continuation, maxPageSize)
		if err != nil {
			return Result{}, cverr.Wrap(err, cverr.KindInternal, "listing prefix")
		}

		for _, cp := range page.CommonPrefixes {
			rel := strings.TrimSuffix(strings.TrimPrefix(cp, prefix), "/")
			if rel == "" {
				continue
			}

			fullPath := storagekey.JoinKey(p, rel)
			isEnc, isLocked, isHidden, isConcealed := opts.Access.classify(fullPath)
			if isHidden && isConcealed {
				continue
			}

			dirs = append(dirs, DirectoryRecord{
				Name: rel, Prefix: fullPath,
				IsEncrypted: isEnc, IsLocked: isLocked,
				IsHidden: isHidden, IsConcealed: isConcealed,
			})
		}

		for _, o := range page.Objects {
			rel := strings.TrimPrefix(o.Key, prefix)
			if rel == "" || storagekey.IsPlaceholder(rel) || storagekey.IsUnderSecure(rel) {
				continue
			}

			objs = append(objs, e.buildObjectModel(ctx, o, rel, opts))
		}

		if !page.IsTruncated || page.NextContinuation == "" {
			break
		}

		continuation = page.NextContinuation
	}

	if opts.WantMetadata {
		if err := e.hydrateMetadata(ctx, objs, opts); err != nil {
			return Result{}, err
		}
	}

	return Result{Directories: dirs, Objects: objs}, nil
}

func windowObjects(all []ObjectRecord, skip, take int) []ObjectRecord {
	if skip < 0 {
		skip = 0
	}

	if skip >= len(all) {
		return nil
	}

	end := len(all)
	if take > 0 && skip+take < end {
		end = skip + take
	}

	return all[skip:end]
}

func windowDirectories(all []DirectoryRecord, skip, take int) []DirectoryRecord {
	if skip < 0 {
		skip = 0
	}

	if skip >= len(all) {
		return nil
	}

	end := len(all)
	if take > 0 && skip+take < end {
		end = skip + take
	}

	return all[skip:end]
}
