package archivejobs

import (
	"context"
	"io"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cloudvault/core/archive"
	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/cvlog"
	"github.com/cloudvault/core/storagekey"
)

var log = cvlog.GetContextLoggerFunc("archivejobs")

// UsageAccountant is the narrow usage dependency: increment after a
// successful extract.
type UsageAccountant interface {
	Increment(ctx context.Context, owner string, delta int64) error
}

// ImageProcessor runs image metadata extraction on an extracted entry.
type ImageProcessor interface {
	Process(ctx context.Context, owner, key string) error
}

// CacheInvalidator is the narrow cache-fanout dependency every completed job
// must invoke.
type CacheInvalidator interface {
	InvalidateListCache(ctx context.Context, owner string) error
	InvalidateDirectoryThumbnailCache(ctx context.Context, owner, prefix string) error
}

// ExtractOrchestrator runs extract jobs against the durable queue.
type ExtractOrchestrator struct {
	jobs             *Store
	registry         *archive.Registry
	store            ExtractObjectStore
	usage            UsageAccountant
	images           ImageProcessor
	invalid          CacheInvalidator
	limits           archive.Limits
	entryConcurrency int
	progressEntries  int
	progressBytes    int64
}

// ExtractObjectStore is the object-store surface used by extract.
type ExtractObjectStore interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, size int64, err error)
	PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error
}

// ExtractOptions configures an ExtractOrchestrator.
type ExtractOptions struct {
	Limits           archive.Limits
	EntryConcurrency int   // default 3
	ProgressEntries  int   // default 5
	ProgressBytes    int64 // default 5MB
}

// NewExtractOrchestrator constructs an ExtractOrchestrator with defaults
// applied to any zero-valued option.
func NewExtractOrchestrator(jobs *Store, registry *archive.Registry, store ExtractObjectStore, usage UsageAccountant, images ImageProcessor, invalid CacheInvalidator, opts ExtractOptions) *ExtractOrchestrator {
	if opts.EntryConcurrency <= 0 {
		opts.EntryConcurrency = 3
	}

	if opts.ProgressEntries <= 0 {
		opts.ProgressEntries = 5
	}

	if opts.ProgressBytes <= 0 {
		opts.ProgressBytes = 5 << 20
	}

	return &ExtractOrchestrator{
		jobs:             jobs,
		registry:         registry,
		store:            store,
		usage:            usage,
		images:           images,
		invalid:          invalid,
		limits:           opts.Limits,
		entryConcurrency: opts.EntryConcurrency,
		progressEntries:  opts.ProgressEntries,
		progressBytes:    opts.ProgressBytes,
	}
}

// Run drains job and performs the extract, transitioning it through
// active → {completed|failed|cancelled}.
func (o *ExtractOrchestrator) Run(ctx context.Context, job Job, sourceKey, format, extractPrefix string) {
	if err := o.jobs.markActive(ctx, job); err != nil {
		log(ctx).Errorf("marking job %s active failed: %v", job.ID, err)
		return
	}
	job.State = StateActive

	total, err := o.runExtract(ctx, job, sourceKey, format, extractPrefix)
	if err != nil {
		if isCancelled(err) {
			if merr := o.jobs.markCancelled(ctx, job); merr != nil {
				log(ctx).Errorf("marking job %s cancelled failed: %v", job.ID, merr)
			}

			return
		}

		if merr := o.jobs.markFailed(ctx, job, err.Error()); merr != nil {
			log(ctx).Errorf("marking job %s failed failed: %v", job.ID, merr)
		}

		return
	}

	if err := o.usage.Increment(ctx, job.OwnerID, total); err != nil {
		log(ctx).Errorf("incrementing usage after extract %s failed: %v", job.ID, err)
	}

	if err := o.invalid.InvalidateDirectoryThumbnailCache(ctx, job.OwnerID, extractPrefix); err != nil {
		log(ctx).Errorf("invalidating thumbnail cache after extract %s failed: %v", job.ID, err)
	}

	if err := o.invalid.InvalidateListCache(ctx, job.OwnerID); err != nil {
		log(ctx).Errorf("invalidating list cache after extract %s failed: %v", job.ID, err)
	}

	if err := o.jobs.markCompleted(ctx, job, map[string]interface{}{"totalBytes": total}); err != nil {
		log(ctx).Errorf("marking job %s completed failed: %v", job.ID, err)
	}
}

func isCancelled(err error) bool {
	return err != nil && strings.Contains(err.Error(), "cancelled")
}

func (o *ExtractOrchestrator) runExtract(ctx context.Context, job Job, sourceKey, format, extractPrefix string) (int64, error) {
	handler, err := o.resolveHandler(format, sourceKey)
	if err != nil {
		return 0, err
	}

	fullSource := storagekey.JoinKey(job.OwnerID, sourceKey)

	body, size, err := o.store.GetObject(ctx, fullSource)
	if err != nil {
		return 0, cverr.Wrap(err, cverr.KindNotFound, "reading source archive")
	}
	defer body.Close()

	archiveBase := strings.TrimSuffix(path.Base(sourceKey), path.Ext(sourceKey))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.entryConcurrency)

	var (
		entriesDone int
		bytesDone   int64
		lastEntries int
		lastBytes   int64
	)

	err = handler.Extract(ctx, body, size, o.limits, func(entryCtx context.Context, e archive.Entry) error {
		if o.jobs.ShouldCancel(entryCtx, ExtractKind, job.ID) {
			return cverr.BadRequest("archive extract cancelled")
		}

		if e.Type == archive.DirectoryEntry {
			return nil
		}

		targetRel := stripTopLevelFolder(e.Path, archiveBase)
		targetKey := storagekey.JoinKey(job.OwnerID, extractPrefix, targetRel)

		data, rerr := io.ReadAll(e.Stream)
		if rerr != nil {
			return cverr.Wrap(rerr, cverr.KindInternal, "reading archive entry")
		}

		g.Go(func() error {
			if err := o.store.PutObject(gctx, targetKey, newBytesReader(data), int64(len(data)), nil); err != nil {
				return cverr.Wrap(err, cverr.KindInternal, "uploading extracted entry")
			}

			if o.images != nil {
				if ierr := o.images.Process(gctx, job.OwnerID, storagekey.JoinKey(extractPrefix, targetRel)); ierr != nil {
					log(gctx).Warnf("image processing failed for extracted entry %s: %v", targetKey, ierr)
				}
			}

			return nil
		})

		entriesDone++
		bytesDone += int64(len(data))

		if entriesDone-lastEntries >= o.progressEntries || bytesDone-lastBytes >= o.progressBytes {
			lastEntries, lastBytes = entriesDone, bytesDone
			if perr := o.jobs.markProgress(ctx, job, Progress{EntriesDone: entriesDone, BytesDone: bytesDone}); perr != nil {
				log(ctx).Warnf("recording progress for job %s failed: %v", job.ID, perr)
			}
		}

		return nil
	}, archive.ExtractOptions{ShouldCancel: func() bool { return o.jobs.ShouldCancel(ctx, ExtractKind, job.ID) }})

	if err != nil {
		return 0, err
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return bytesDone, nil
}

func (o *ExtractOrchestrator) resolveHandler(format, sourceKey string) (archive.Handler, error) {
	if format != "" {
		return o.registry.ByFormat(format)
	}

	return o.registry.ByExtension(sourceKey)
}

// stripTopLevelFolder removes a leading "<archiveBase>/" path segment when
// the archive's top-level folder equals its own base name, matching the
// common convention of an archive whose contents are nested one level deep
// under a folder named after the archive itself.
func stripTopLevelFolder(entryPath, archiveBase string) string {
	prefix := archiveBase + "/"
	if strings.HasPrefix(entryPath, prefix) {
		return strings.TrimPrefix(entryPath, prefix)
	}

	return entryPath
}

func newBytesReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}
