package facade

import (
	"context"
	"time"

	"github.com/cloudvault/core/antivirus"
	"github.com/cloudvault/core/archive"
	"github.com/cloudvault/core/archivejobs"
	"github.com/cloudvault/core/cvconfig"
	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/cvlog"
	"github.com/cloudvault/core/directory"
	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/listing"
	"github.com/cloudvault/core/objectstore"
	"github.com/cloudvault/core/objectsvc"
	"github.com/cloudvault/core/upload"
	"github.com/cloudvault/core/usage"
)

var log = cvlog.GetContextLoggerFunc("facade")

// Facade is the single composition root every transport (cmd/cloudvaultd,
// or a future HTTP handler) calls into. It owns no business rules of its
// own beyond what a thin composition layer requires: access-check
// enforcement ahead of every operation that takes a session token
// (operations without one, such as CreateDirectory and the multipart
// part/complete/abort calls, run no check), the idempotency envelope around
// mutations, cache-invalidation fan-out, and metrics.
// Grounded on kopia/cli/app.go's appServices, which plays the identical
// role of gluing the repo/storage/progress layers behind the one object
// every CLI command's Action method receives.
type Facade struct {
	cfg *cvconfig.Config

	gw    *objectstore.Gateway
	cache kv.Store

	dir      *directory.Service
	list     *listing.Engine
	objects  *objectsvc.Service
	uploads  *upload.Service
	usageAcc *usage.Accountant
	av       *antivirus.Scanner

	archiveJobs *archivejobs.Store
	extractOrch *archivejobs.ExtractOrchestrator
	createOrch  *archivejobs.CreateOrchestrator
}

// Deps bundles the external dependencies New needs beyond configuration:
// the object-store gateway, the shared cache/KV store, and the (out-of-
// scope) subscription record lookup usage accounting depends on.
type Deps struct {
	Gateway      *objectstore.Gateway
	Cache        kv.Store
	Subscription usage.Subscription
}

// New wires every component from cfg and deps, adapting objectstore.Gateway
// to each component's narrow interface and assembling the archive format
// registry and job orchestrators.
func New(cfg *cvconfig.Config, deps Deps) *Facade {
	gw := deps.Gateway
	cache := deps.Cache

	signer := NewSigner(gw)
	images := NewImageProcessor(gw)

	usageAcc := usage.New(usageLister{gw}, deps.Subscription, cache)

	f := &Facade{
		cfg:      cfg,
		gw:       gw,
		cache:    cache,
		usageAcc: usageAcc,
	}

	f.dir = directory.New(directoryStore{gw}, cache, usageAcc, f)
	f.list = listing.New(listingStore{gw}, signer, cache, cfg.Listing.CacheTTL)
	f.objects = objectsvc.New(objectSvcStore{gw}, signer, f, 24*time.Hour)

	f.av = antivirus.New(avStore{gw}, cache, antivirus.Options{
		Enabled:       cfg.Antivirus.Enabled,
		Host:          cfg.Antivirus.Host,
		Port:          cfg.Antivirus.Port,
		MaxScanBytes:  cfg.Antivirus.MaxScanBytes,
		SocketTimeout: cfg.Antivirus.SocketTimeout,
		Concurrency:   cfg.Antivirus.Concurrency,
	})

	f.uploads = upload.New(uploadStore{gw}, signer, uploadUsageAccountant{usageAcc}, images, f.av, f, 15*time.Minute)

	registry := archive.NewRegistry(
		archive.ZipHandler{},
		archive.TarHandler{},
		archive.TarGzHandler{},
		archive.RarHandler{MaxBufferBytes: cfg.RARMaxBufferBytes},
	)

	f.archiveJobs = archivejobs.NewStore(cache)

	f.extractOrch = archivejobs.NewExtractOrchestrator(f.archiveJobs, registry, extractStore{gw}, usageAcc, images, f, archivejobs.ExtractOptions{
		Limits: archive.Limits{
			MaxEntries:          cfg.ArchiveExtract.MaxEntries,
			MaxEntryBytes:       cfg.ArchiveExtract.MaxEntryBytes,
			MaxTotalBytes:       cfg.ArchiveExtract.MaxTotalBytes,
			MaxCompressionRatio: cfg.ArchiveExtract.MaxCompressionRate,
		},
		EntryConcurrency: cfg.ArchiveExtract.EntryConcurrency,
		ProgressEntries:  cfg.ArchiveExtract.ProgressEntries,
		ProgressBytes:    cfg.ArchiveExtract.ProgressBytes,
	})

	f.createOrch = archivejobs.NewCreateOrchestrator(f.archiveJobs, registry, createStore{gw}, f, archivejobs.CreateLimits{
		MaxFiles:      cfg.ArchiveCreate.MaxFiles,
		MaxTotalBytes: cfg.ArchiveCreate.MaxTotalBytes,
	}, 24*time.Hour)

	return f
}

// InvalidateListCache and InvalidateDirectoryThumbnailCache/
// InvalidateThumbnailCacheForObjectKey implement the CacheInvalidator
// surface every component depends on, fanning a single mutation out to
// both the listing and thumbnail caches so no component needs to know
// about the other's cache namespace.

func (f *Facade) InvalidateListCache(ctx context.Context, owner string) error {
	return f.list.InvalidateListCache(ctx, owner)
}

func (f *Facade) InvalidateDirectoryThumbnailCache(ctx context.Context, owner, dir string) error {
	return f.list.InvalidateDirectoryThumbnailCache(ctx, owner, dir)
}

func (f *Facade) InvalidateThumbnailCacheForObjectKey(ctx context.Context, owner, key string) error {
	return f.list.InvalidateThumbnailCacheForObjectKey(ctx, owner, key)
}

// checkAccess enforces the encrypted/hidden-folder access check ahead of
// operation, recording a metric on denial so repeated brute-force attempts
// against a locked folder are observable.
func (f *Facade) checkAccess(ctx context.Context, operation, owner, path, token string) error {
	if err := f.dir.CheckAccess(ctx, owner, path, token); err != nil {
		metricAccessDenied.WithLabelValues(operation).Inc()
		return err
	}

	return nil
}

// List returns the breadcrumb/directories/objects for path after verifying
// the caller's session token grants access to it.
func (f *Facade) List(ctx context.Context, owner, token, path string, opts listing.Options) (listing.Result, error) {
	if err := f.checkAccess(ctx, "list", owner, path, token); err != nil {
		return listing.Result{}, err
	}

	return f.list.List(ctx, owner, path, opts)
}

// ListObjects paginates the object members of path.
func (f *Facade) ListObjects(ctx context.Context, owner, token, path string, opts listing.Options, page listing.PageRequest) (listing.PageResult, error) {
	if err := f.checkAccess(ctx, "list_objects", owner, path, token); err != nil {
		return listing.PageResult{}, err
	}

	return f.list.ListObjects(ctx, owner, path, opts, page)
}

// ListDirectories paginates the directory members of path.
func (f *Facade) ListDirectories(ctx context.Context, owner, token, path string, opts listing.Options, page listing.PageRequest) (listing.PageResult, error) {
	if err := f.checkAccess(ctx, "list_directories", owner, path, token); err != nil {
		return listing.PageResult{}, err
	}

	return f.list.ListDirectories(ctx, owner, path, opts, page)
}

// Search runs a name/extension search rooted at req.Path. The second and
// third return values are the total file match count and the total
// directory-name match count, counted separately per spec.
func (f *Facade) Search(ctx context.Context, owner, token string, req listing.SearchRequest, opts listing.Options) ([]listing.SearchResult, int, int, error) {
	if err := f.checkAccess(ctx, "search", owner, req.Path, token); err != nil {
		return nil, 0, 0, err
	}

	return f.list.SearchObjects(ctx, owner, req, opts, f.cfg.Listing.SearchScanMax)
}

// DirectoryThumbnails collects up to four images from each of up to four
// subfolder groups under prefix and returns at most four of them in total,
// taken round-robin across the groups.
func (f *Facade) DirectoryThumbnails(ctx context.Context, owner, token, prefix string, signed bool) ([]listing.ObjectRecord, error) {
	if err := f.checkAccess(ctx, "directory_thumbnails", owner, prefix, token); err != nil {
		return nil, err
	}

	return f.list.DirectoryThumbnails(ctx, owner, prefix, signed, f.cfg.Listing.ThumbnailCacheTTL)
}

// Breadcrumb splits path into its navigable segments; it carries no access
// check of its own since it reveals only path structure, not content.
func (f *Facade) Breadcrumb(path string) []listing.BreadcrumbSegment {
	return listing.Breadcrumb(path)
}

// Find resolves a single object's stat.
func (f *Facade) Find(ctx context.Context, owner, token, key string) (objectsvc.Stat, error) {
	if err := f.checkAccess(ctx, "find", owner, key, token); err != nil {
		return objectsvc.Stat{}, err
	}

	return f.objects.Find(ctx, owner, key)
}

// GetPresignedUrl issues a time-limited download URL for key.
func (f *Facade) GetPresignedUrl(ctx context.Context, owner, token, key string, ttl time.Duration) (string, error) {
	if err := f.checkAccess(ctx, "presign", owner, key, token); err != nil {
		return "", err
	}

	return f.objects.GetPresignedUrl(ctx, owner, key, ttl)
}

// Move relocates sourceKeys under destinationKey, wrapped in the
// idempotency envelope when idempotencyKey is non-empty.
func (f *Facade) Move(ctx context.Context, owner, token, idempotencyKey string, sourceKeys []string, destinationKey string) error {
	if err := f.checkAccess(ctx, "move", owner, destinationKey, token); err != nil {
		return err
	}

	_, err := withIdempotency(ctx, f.cache, owner, "move", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.objects.Move(ctx, owner, sourceKeys, destinationKey)
	})

	return err
}

// Delete removes keys, decrementing usage for each.
func (f *Facade) Delete(ctx context.Context, owner, token, idempotencyKey string, keys []string) error {
	for _, key := range keys {
		if err := f.checkAccess(ctx, "delete_objects", owner, key, token); err != nil {
			return err
		}
	}

	_, err := withIdempotency(ctx, f.cache, owner, "delete_objects", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (struct{}, error) {
		var freed int64
		for _, key := range keys {
			if stat, err := f.objects.Find(ctx, owner, key); err == nil {
				freed += stat.Size
			}
		}

		if err := f.objects.Delete(ctx, owner, keys); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, f.usageAcc.Decrement(ctx, owner, freed)
	})

	return err
}

// UpdateObject renames and/or re-tags key.
func (f *Facade) UpdateObject(ctx context.Context, owner, token, idempotencyKey string, req objectsvc.UpdateRequest) (objectsvc.Stat, error) {
	if err := f.checkAccess(ctx, "update_object", owner, req.Key, token); err != nil {
		return objectsvc.Stat{}, err
	}

	return withIdempotency(ctx, f.cache, owner, "update_object", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (objectsvc.Stat, error) {
		return f.objects.Update(ctx, owner, req)
	})
}

// CreateDirectory creates dir, optionally encrypted.
func (f *Facade) CreateDirectory(ctx context.Context, owner, idempotencyKey, dir string, encrypted bool, passphrase string) error {
	_, err := withIdempotency(ctx, f.cache, owner, "create_directory", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.dir.CreateDirectory(ctx, owner, dir, encrypted, passphrase)
	})

	return err
}

// RenameDirectory moves src to dst.
func (f *Facade) RenameDirectory(ctx context.Context, owner, token, idempotencyKey, src, dst string, allowEncrypted bool) error {
	if err := f.checkAccess(ctx, "rename_directory", owner, src, token); err != nil {
		return err
	}

	_, err := withIdempotency(ctx, f.cache, owner, "rename_directory", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.dir.RenameDirectory(ctx, owner, src, dst, allowEncrypted)
	})

	return err
}

// DeleteDirectory recursively removes dir.
func (f *Facade) DeleteDirectory(ctx context.Context, owner, token, idempotencyKey, dir, passphrase string) error {
	if err := f.checkAccess(ctx, "delete_directory", owner, dir, token); err != nil {
		return err
	}

	_, err := withIdempotency(ctx, f.cache, owner, "delete_directory", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.dir.Delete(ctx, owner, dir, passphrase)
	})

	return err
}

// EstimateDirectorySize counts dir's objects and total bytes.
func (f *Facade) EstimateDirectorySize(ctx context.Context, owner, token, dir string) (int, int64, error) {
	if err := f.checkAccess(ctx, "estimate_directory_size", owner, dir, token); err != nil {
		return 0, 0, err
	}

	return f.dir.EstimateSize(ctx, owner, dir)
}

// Encrypted/hidden-folder session management passes straight through to the
// directory service: these calls ARE the access-control primitive, so they
// carry no access check of their own.

func (f *Facade) EncryptFolder(ctx context.Context, owner, dir, passphrase string, creating bool) error {
	return f.dir.EncryptFolder(ctx, owner, dir, passphrase, creating)
}

func (f *Facade) DecryptFolder(ctx context.Context, owner, dir, passphrase string) error {
	return f.dir.DecryptFolder(ctx, owner, dir, passphrase)
}

func (f *Facade) HideFolder(ctx context.Context, owner, dir, passphrase string) error {
	return f.dir.Hide(ctx, owner, dir, passphrase)
}

func (f *Facade) UnhideFolder(ctx context.Context, owner, dir, passphrase string) error {
	return f.dir.Unhide(ctx, owner, dir, passphrase)
}

func (f *Facade) Unlock(ctx context.Context, owner, dir, passphrase string) (string, time.Time, error) {
	return f.dir.Unlock(ctx, owner, dir, passphrase)
}

func (f *Facade) Lock(ctx context.Context, owner, dir string) error {
	return f.dir.Lock(ctx, owner, dir)
}

func (f *Facade) Reveal(ctx context.Context, owner, dir, passphrase string) (string, time.Time, error) {
	return f.dir.Reveal(ctx, owner, dir, passphrase)
}

func (f *Facade) Conceal(ctx context.Context, owner, dir string) error {
	return f.dir.Conceal(ctx, owner, dir)
}

// CreateMultipart begins an upload after an access check on the destination
// directory (the key's parent).
func (f *Facade) CreateMultipart(ctx context.Context, owner, token, idempotencyKey, key, contentType string, metadata map[string]string, declaredSize int64) (upload.CreateResult, error) {
	if err := f.checkAccess(ctx, "create_multipart", owner, key, token); err != nil {
		return upload.CreateResult{}, err
	}

	return withIdempotency(ctx, f.cache, owner, "create_multipart", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (upload.CreateResult, error) {
		result, err := f.uploads.CreateMultipart(ctx, owner, key, contentType, metadata, declaredSize)
		if cverr.KindOf(err) == cverr.KindBadRequest {
			metricLimitRejections.WithLabelValues("create_multipart").Inc()
		}

		return result, err
	})
}

func (f *Facade) GetPartUrl(ctx context.Context, owner, key, uploadID string, partNumber int) (string, error) {
	return f.uploads.GetPartUrl(ctx, owner, key, uploadID, partNumber)
}

func (f *Facade) UploadPart(ctx context.Context, owner, key, uploadID string, partNumber int, body []byte, contentMD5 string) (string, error) {
	return f.uploads.UploadPart(ctx, owner, key, uploadID, partNumber, body, contentMD5)
}

// CompleteUpload finishes the multipart upload, best-effort post-processing
// (image dimensions, antivirus enqueue) included.
func (f *Facade) CompleteUpload(ctx context.Context, owner, idempotencyKey, key, uploadID string, parts []upload.Part) (upload.CompleteResult, error) {
	return withIdempotency(ctx, f.cache, owner, "complete_upload", idempotencyKey, f.cfg.IdempotencyTTL, func(ctx context.Context) (upload.CompleteResult, error) {
		return f.uploads.Complete(ctx, owner, key, uploadID, parts)
	})
}

func (f *Facade) AbortUpload(ctx context.Context, owner, key, uploadID string) error {
	return f.uploads.Abort(ctx, owner, key, uploadID)
}

// ScanStatus looks up the antivirus verdict previously published for key.
func (f *Facade) ScanStatus(ctx context.Context, owner, key string) (antivirus.Result, bool, error) {
	return antivirus.Lookup(ctx, f.cache, owner, key)
}

// GetUsage returns owner's current storage usage against their plan limit.
func (f *Facade) GetUsage(ctx context.Context, owner string) (usage.Usage, error) {
	return f.usageAcc.UserStorageUsage(ctx, owner)
}

// StartExtractJob enqueues an archive extraction and runs it on a detached
// goroutine, returning the job immediately in the waiting state.
func (f *Facade) StartExtractJob(ctx context.Context, owner, token, sourceKey, format, extractPrefix string) (archivejobs.Job, error) {
	if err := f.checkAccess(ctx, "archive_extract", owner, extractPrefix, token); err != nil {
		return archivejobs.Job{}, err
	}

	job, err := f.archiveJobs.Create(ctx, archivejobs.ExtractKind, owner)
	if err != nil {
		return archivejobs.Job{}, err
	}

	runCtx := detachedContext(ctx)

	go func() {
		start := time.Now()
		f.extractOrch.Run(runCtx, job, sourceKey, format, extractPrefix)

		outcome := "unknown"
		if final, err := f.archiveJobs.Get(runCtx, archivejobs.ExtractKind, job.ID); err == nil {
			outcome = string(final.State)
		}

		metricArchiveJobDuration.WithLabelValues(string(archivejobs.ExtractKind), outcome).Observe(time.Since(start).Seconds())
	}()

	return job, nil
}

// StartCreateJob enqueues an archive creation and runs it on a detached
// goroutine, returning the job immediately in the waiting state.
func (f *Facade) StartCreateJob(ctx context.Context, owner, token, format string, sources []archivejobs.CreateSource, archiveName string) (archivejobs.Job, error) {
	for _, src := range sources {
		if err := f.checkAccess(ctx, "archive_create", owner, src.Key, token); err != nil {
			return archivejobs.Job{}, err
		}
	}

	job, err := f.archiveJobs.Create(ctx, archivejobs.CreateKind, owner)
	if err != nil {
		return archivejobs.Job{}, err
	}

	runCtx := detachedContext(ctx)

	go func() {
		start := time.Now()
		f.createOrch.Run(runCtx, job, owner, format, sources, archiveName)

		outcome := "unknown"
		if final, err := f.archiveJobs.Get(runCtx, archivejobs.CreateKind, job.ID); err == nil {
			outcome = string(final.State)
		}

		metricArchiveJobDuration.WithLabelValues(string(archivejobs.CreateKind), outcome).Observe(time.Since(start).Seconds())
	}()

	return job, nil
}

// ArchiveJobStatus reads a job's current state, enforcing ownership.
func (f *Facade) ArchiveJobStatus(ctx context.Context, kind archivejobs.Kind, id, owner string) (archivejobs.Job, error) {
	return f.archiveJobs.Status(ctx, kind, id, owner)
}

// CancelArchiveJob cancels a waiting or active job.
func (f *Facade) CancelArchiveJob(ctx context.Context, kind archivejobs.Kind, id, owner string) error {
	return f.archiveJobs.Cancel(ctx, kind, id, owner)
}

// detachedContext carries a request context's logger/values forward into a
// background goroutine while dropping its cancellation, so an archive job
// keeps running after the originating request returns.
func detachedContext(ctx context.Context) context.Context {
	return detachedCtx{ctx}
}

type detachedCtx struct{ parent context.Context }

func (detachedCtx) Deadline() (time.Time, bool)         { return time.Time{}, false }
func (detachedCtx) Done() <-chan struct{}               { return nil }
func (detachedCtx) Err() error                          { return nil }
func (c detachedCtx) Value(key interface{}) interface{} { return c.parent.Value(key) }
