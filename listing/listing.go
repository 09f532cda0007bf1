// Package listing assembles directory-overlay listings over the flat
// object store: ListV2-backed directory/file classification, breadcrumbs,
// concurrent metadata heads, directory-thumbnail aggregation, and the
// search scanner. It never validates encrypted/hidden sessions itself —
// it classifies entries from the sets the caller passes in Options.Access,
// the way block/block_formatter.go takes already-resolved format
// parameters rather than reaching into the repo config itself. The facade
// forwards the caller's Options unchanged and computes no AccessState, so
// an empty AccessState reports no directory as encrypted, locked, hidden or
// concealed.
package listing

import (
	"context"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/metadatacodec"
	"github.com/cloudvault/core/storagekey"
)

// ObjectInfo is the minimal shape the listing engine needs from the object
// store for a single key; objectstore.Gateway's ListV2/HeadObject results
// are adapted into this at the call site so this package stays
// store-client-agnostic.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store is the narrow object-store dependency listing needs.
type Store interface {
	ListV2(ctx context.Context, prefix, delimiter, startAfter, continuationToken string, maxKeys int) (Page, error)
	HeadMetadata(ctx context.Context, key string) (map[string]string, error)
}

// Page mirrors objectstore.ListV2Page without importing minio types into
// this package's public surface.
type Page struct {
	Objects          []ObjectInfo
	CommonPrefixes   []string
	NextContinuation string
	IsTruncated      bool
}

// Signer resolves the URL for a key: a presigned URL (bounded by a
// configured max TTL) or a public CDN URL. Presigned-URL signing itself is
// out of scope; this package only calls through the interface.
type Signer interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PublicURL(key string) string
}

// ObjectRecord is a single listed file.
type ObjectRecord struct {
	Name         string
	Extension    string
	MimeType     string
	Key          string
	Url          string
	Metadata     map[string]string
	Size         int64
	ETag         string
	LastModified time.Time
}

// DirectoryRecord is a single listed (synthetic) directory.
type DirectoryRecord struct {
	Name        string
	Prefix      string
	IsEncrypted bool
	IsLocked    bool
	IsHidden    bool
	IsConcealed bool
	Thumbnails  []ObjectRecord
}

// BreadcrumbSegment is one element of the path the UI renders as a trail of
// links.
type BreadcrumbSegment struct {
	Name   string
	Prefix string
}

// AccessState carries the already-resolved encrypted/hidden folder state
// for the owner, as supplied by the caller in Options.Access; nothing in
// listing or the facade fills it in.
type AccessState struct {
	// EncryptedPaths is the set of normalized paths that are
	// encrypted directories.
	EncryptedPaths map[string]bool
	// UnlockedPaths is the subset of EncryptedPaths the caller has a
	// currently valid unlock session for.
	UnlockedPaths map[string]bool
	// HiddenPaths / RevealedPaths mirror EncryptedPaths/UnlockedPaths for
	// hidden folders.
	HiddenPaths   map[string]bool
	RevealedPaths map[string]bool
}

func (a AccessState) classify(p string) (isEncrypted, isLocked, isHidden, isConcealed bool) {
	isEncrypted = a.EncryptedPaths[p]
	isLocked = isEncrypted && !a.UnlockedPaths[p]
	isHidden = a.HiddenPaths[p]
	isConcealed = isHidden && !a.RevealedPaths[p]
	return
}

// Options configures a single List call.
type Options struct {
	Delimiter    string
	WantMetadata bool
	Signed       bool
	PresignTTL   time.Duration
	Access       AccessState
	MetadataMax  int
	Concurrency  int
}

// Result is the outcome of List.
type Result struct {
	Breadcrumb  []BreadcrumbSegment
	Directories []DirectoryRecord
	Objects     []ObjectRecord
}

const cacheListPrefix = "cloud:list:"

// Engine implements the listing component.
type Engine struct {
	store    Store
	signer   Signer
	cache    kv.Store
	cacheTTL time.Duration
}

// New constructs an Engine.
func New(store Store, signer Signer, cache kv.Store, cacheTTL time.Duration) *Engine {
	return &Engine{store: store, signer: signer, cache: cache, cacheTTL: cacheTTL}
}

// Breadcrumb splits path into a trail of {Name, Prefix} segments.
func Breadcrumb(p string) []BreadcrumbSegment {
	norm := storagekey.NormalizeDir(p)
	if norm == "" {
		return nil
	}

	segs := strings.Split(norm, "/")
	out := make([]BreadcrumbSegment, 0, len(segs))

	for i, s := range segs {
		out = append(out, BreadcrumbSegment{Name: s, Prefix: strings.Join(segs[:i+1], "/")})
	}

	return out
}

func cacheKey(owner, p, delimiter string, opts Options) string {
	auth := "0"
	if len(opts.Access.UnlockedPaths) > 0 {
		auth = "1"
	}

	hauth := "0"
	if len(opts.Access.RevealedPaths) > 0 {
		hauth = "1"
	}

	pathPart := p
	if pathPart == "" {
		pathPart = "root"
	}

	meta := "0"
	if opts.WantMetadata {
		meta = "1"
	}

	return cacheListPrefix + owner + ":" + pathPart + ":full:" + delimiter + ":" + meta + ":" + auth + ":" + hauth
}

// List lists the directories and objects directly under path, per the
// design's synthetic-directory overlay.
func (e *Engine) List(ctx context.Context, owner, p string, opts Options) (Result, error) {
	p = storagekey.NormalizeDir(p)
	delimiter := opts.Delimiter
	if delimiter == "" {
		delimiter = "/"
	}

	key := cacheKey(owner, p, delimiter, opts)

	var cached Result
	if ok, err := e.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	prefix := storagekey.JoinKey(owner, p)
	if prefix != "" {
		prefix += "/"
	}

	page, err := e.store.ListV2(ctx, prefix, delimiter, "", "", 1000)
	if err != nil {
		return Result{}, cverr.Wrap(err, cverr.KindInternal, "listing prefix")
	}

	dirs := make([]DirectoryRecord, 0, len(page.CommonPrefixes))
	for _, cp := range page.CommonPrefixes {
		rel := strings.TrimPrefix(cp, prefix)
		rel = strings.TrimSuffix(rel, "/")
		if rel == "" {
			continue
		}

		fullPath := storagekey.JoinKey(p, rel)
		isEnc, isLocked, isHidden, isConcealed := opts.Access.classify(fullPath)
		if isHidden && isConcealed {
			continue
		}

		var thumbs []ObjectRecord
		if !isLocked && !isConcealed {
			thumbs, err = e.DirectoryThumbnails(ctx, owner, fullPath, opts.Signed, opts.PresignTTL)
			if err != nil {
				return Result{}, err
			}
		}

		dirs = append(dirs, DirectoryRecord{
			Name:        rel,
			Prefix:      fullPath,
			IsEncrypted: isEnc,
			IsLocked:    isLocked,
			IsHidden:    isHidden,
			IsConcealed: isConcealed,
			Thumbnails:  thumbs,
		})
	}

	objs := make([]ObjectRecord, 0, len(page.Objects))
	for _, o := range page.Objects {
		rel := strings.TrimPrefix(o.Key, prefix)
		if rel == "" || storagekey.IsPlaceholder(rel) || storagekey.IsUnderSecure(rel) {
			continue
		}

		objs = append(objs, e.buildObjectModel(ctx, o, rel, opts))
	}

	if opts.WantMetadata {
		if err := e.hydrateMetadata(ctx, objs, opts); err != nil {
			return Result{}, err
		}
	}

	result := Result{
		Breadcrumb:  Breadcrumb(p),
		Directories: dirs,
		Objects:     objs,
	}

	_ = e.cache.Set(ctx, key, result, e.cacheTTL)

	return result, nil
}

func (e *Engine) buildObjectModel(ctx context.Context, o ObjectInfo, rel string, opts Options) ObjectRecord {
	name := path.Base(rel)
	ext := ""
	if idx := strings.LastIndex(name, "."); idx >= 0 && idx < len(name)-1 {
		ext = name[idx+1:]
	}

	mimeType := mime.TypeByExtension("." + ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	url := e.signer.PublicURL(o.Key)
	if opts.Signed {
		ttl := opts.PresignTTL
		if ttl <= 0 {
			ttl = time.Hour
		}

		if signed, err := e.signer.SignedURL(ctx, o.Key, ttl); err == nil {
			url = signed
		}
	}

	return ObjectRecord{
		Name:         name,
		Extension:    ext,
		MimeType:     mimeType,
		Key:          o.Key,
		Url:          url,
		Size:         o.Size,
		ETag:         o.ETag,
		LastModified: o.LastModified,
	}
}

// hydrateMetadata issues bounded-concurrency HeadObject calls to fill in
// each object's Metadata (it resolves no signed URLs), per the
// design's "concurrency-bounded worker pool, default 5" rule.
func (e *Engine) hydrateMetadata(ctx context.Context, objs []ObjectRecord, opts Options) error {
	max := opts.MetadataMax
	if max <= 0 || max > len(objs) {
		max = len(objs)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 0; i < max; i++ {
		i := i
		g.Go(func() error {
			raw, err := e.store.HeadMetadata(ctx, objs[i].Key)
			if err != nil {
				if cverr.Is(err, cverr.KindNotFound) {
					return nil
				}

				return err
			}

			objs[i].Metadata = metadatacodec.DecodeFromStore(raw)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "hydrating object metadata")
	}

	return nil
}

// InvalidateListCache drops every cached listing belonging to owner.
func (e *Engine) InvalidateListCache(ctx context.Context, owner string) error {
	_, err := e.cache.DeleteByPattern(ctx, cacheListPrefix+owner+":*")
	return err
}

// SortDirectoriesByName is a small helper used by callers that want a
// deterministic listing order; ListV2 prefixes already arrive sorted
// lexically within a page, but pagination merges can disturb that.
func SortDirectoriesByName(dirs []DirectoryRecord) {
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
}
