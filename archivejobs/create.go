package archivejobs

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudvault/core/archive"
	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

// CreateSource identifies one requested entry: either a single file or a
// directory to be expanded by a paginated listing before archiving.
type CreateSource struct {
	Key         string
	IsDirectory bool
}

// CreateObjectStore is the object-store surface used by create.
type CreateObjectStore interface {
	HeadMetadata(ctx context.Context, key string) (size int64, err error)
	GetObject(ctx context.Context, key string) (body io.ReadCloser, size int64, err error)
	ListV2(ctx context.Context, prefix, continuationToken string, maxKeys int) (keys []string, sizes []int64, nextContinuation string, isTruncated bool, err error)
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	PutObjectPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, etags []string) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// CreateLimits bounds a single create job.
type CreateLimits struct {
	MaxFiles      int
	MaxTotalBytes int64
}

// CreateOrchestrator runs create jobs against the durable queue.
type CreateOrchestrator struct {
	jobs      *Store
	registry  *archive.Registry
	store     CreateObjectStore
	invalid   CacheInvalidator
	limits    CreateLimits
	resultTTL time.Duration
}

// NewCreateOrchestrator constructs a CreateOrchestrator.
func NewCreateOrchestrator(jobs *Store, registry *archive.Registry, store CreateObjectStore, invalid CacheInvalidator, limits CreateLimits, resultTTL time.Duration) *CreateOrchestrator {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}

	return &CreateOrchestrator{jobs: jobs, registry: registry, store: store, invalid: invalid, limits: limits, resultTTL: resultTTL}
}

// Run resolves sources, invokes the handler, streams the result into a
// multipart upload under a temporary prefix, and records the archive
// location under the job's durable result key.
func (o *CreateOrchestrator) Run(ctx context.Context, job Job, owner, format string, sources []CreateSource, archiveName string) {
	if err := o.jobs.markActive(ctx, job); err != nil {
		log(ctx).Errorf("marking job %s active failed: %v", job.ID, err)
		return
	}

	archiveKey, size, err := o.runCreate(ctx, job, owner, format, sources, archiveName)
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

	if err := o.invalid.InvalidateListCache(ctx, owner); err != nil {
		log(ctx).Errorf("invalidating list cache after create %s failed: %v", job.ID, err)
	}

	if err := o.jobs.StoreCreateResult(ctx, job.ID, archiveKey, size, o.resultTTL); err != nil {
		log(ctx).Errorf("storing create result for job %s failed: %v", job.ID, err)
	}

	if err := o.jobs.markCompleted(ctx, job, map[string]interface{}{"archiveKey": archiveKey, "archiveSize": size}); err != nil {
		log(ctx).Errorf("marking job %s completed failed: %v", job.ID, err)
	}
}

func (o *CreateOrchestrator) runCreate(ctx context.Context, job Job, owner, format string, sources []CreateSource, archiveName string) (string, int64, error) {
	handler, err := o.registry.ByFormat(format)
	if err != nil {
		return "", 0, err
	}

	if !handler.SupportsCreation() {
		return "", 0, cverr.BadRequest("format %q does not support archive creation", format)
	}

	entries, err := o.resolveEntries(ctx, owner, sources)
	if err != nil {
		return "", 0, err
	}

	if o.limits.MaxFiles > 0 && len(entries) > o.limits.MaxFiles {
		return "", 0, cverr.BadRequest("create job has %d files, exceeds limit %d", len(entries), o.limits.MaxFiles)
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	if o.limits.MaxTotalBytes > 0 && total > o.limits.MaxTotalBytes {
		return "", 0, cverr.BadRequest("create job totals %d bytes, exceeds limit %d", total, o.limits.MaxTotalBytes)
	}

	archiveKey := storagekey.JoinKey(owner, ".tmp", "archive-create", uuid.NewString(), archiveName)

	uploadID, err := o.store.CreateMultipartUpload(ctx, archiveKey)
	if err != nil {
		return "", 0, cverr.Wrap(err, cverr.KindInternal, "creating archive upload")
	}

	pr, pw := io.Pipe()

	getStream := func(ctx context.Context, archivePath string) (io.ReadCloser, error) {
		full := storagekey.JoinKey(owner, strings.TrimPrefix(archivePath, "/"))
		body, _, err := o.store.GetObject(ctx, full)
		return body, err
	}

	createErrCh := make(chan error, 1)

	go func() {
		createErrCh <- handler.Create(ctx, entries, getStream, pw, archive.CreateOptions{
			ShouldCancel: func() bool { return o.jobs.ShouldCancel(ctx, CreateKind, job.ID) },
		})
		pw.Close()
	}()

	partNumber := 0
	var written int64
	var etags []string
	buf := make([]byte, 8<<20)

	for {
		n, rerr := io.ReadFull(pr, buf)
		if n > 0 {
			partNumber++

			etag, uerr := o.store.PutObjectPart(ctx, archiveKey, uploadID, partNumber, strings.NewReader(string(buf[:n])), int64(n))
			if uerr != nil {
				o.store.AbortMultipartUpload(ctx, archiveKey, uploadID)
				return "", 0, cverr.Wrap(uerr, cverr.KindInternal, "uploading archive part")
			}

			etags = append(etags, etag)
			written += int64(n)
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}

		if rerr != nil {
			o.store.AbortMultipartUpload(ctx, archiveKey, uploadID)
			return "", 0, cverr.Wrap(rerr, cverr.KindInternal, "piping archive stream")
		}
	}

	if err := <-createErrCh; err != nil {
		o.store.AbortMultipartUpload(ctx, archiveKey, uploadID)
		return "", 0, err
	}

	if err := o.store.CompleteMultipartUpload(ctx, archiveKey, uploadID, etags); err != nil {
		return "", 0, cverr.Wrap(err, cverr.KindInternal, "completing archive upload")
	}

	return archiveKey, written, nil
}

func (o *CreateOrchestrator) resolveEntries(ctx context.Context, owner string, sources []CreateSource) ([]archive.CreateEntry, error) {
	var entries []archive.CreateEntry

	for _, src := range sources {
		if !src.IsDirectory {
			full := storagekey.JoinKey(owner, src.Key)

			size, err := o.store.HeadMetadata(ctx, full)
			if err != nil {
				return nil, cverr.Wrap(err, cverr.KindNotFound, "heading create source")
			}

			entries = append(entries, archive.CreateEntry{ArchivePath: src.Key, Size: size})
			continue
		}

		prefix := storagekey.JoinKey(owner, storagekey.NormalizeDir(src.Key)) + "/"
		continuation := ""

		for {
			keys, sizes, next, truncated, err := o.store.ListV2(ctx, prefix, continuation, 1000)
			if err != nil {
				return nil, cverr.Wrap(err, cverr.KindInternal, "listing create source directory")
			}

			for i, key := range keys {
				if storagekey.IsPlaceholder(key) {
					continue
				}

				rel := strings.TrimPrefix(key, storagekey.OwnerPrefix(owner))
				entries = append(entries, archive.CreateEntry{ArchivePath: rel, Size: sizes[i]})
			}

			if !truncated {
				break
			}

			continuation = next
		}
	}

	return entries, nil
}
