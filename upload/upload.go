// Package upload implements the multipart upload lifecycle: create, part
// URL issuance, part upload with optional MD5 verification, completion with
// usage reconciliation and limit enforcement, and abort. Grounded on
// block/disk_cache.go's staged-write-then-commit pattern, generalized here
// to a multipart session spanning several RPCs instead of one process.
package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"io"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/cvlog"
	"github.com/cloudvault/core/metadatacodec"
	"github.com/cloudvault/core/storagekey"
)

var log = cvlog.GetContextLoggerFunc("upload")

// Part describes one completed part as supplied by the caller to Complete.
type Part struct {
	PartNumber int
	ETag       string
}

// Stat is an object's existence/size/ETag snapshot, as returned by Head.
type Stat struct {
	Key  string
	Size int64
	ETag string
}

// Store is the narrow object-store dependency the upload service needs.
type Store interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (uploadID string, err error)
	PutObjectPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	HeadMetadata(ctx context.Context, key string) (Stat, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)
	DeleteObject(ctx context.Context, key string) error
}

// Signer resolves a presigned URL for uploading one part.
type Signer interface {
	SignedPartURL(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)
}

// UsageAccountant is the narrow usage dependency: pre-upload quota check
// plus post-complete increment/decrement.
type UsageAccountant interface {
	UserStorageUsage(ctx context.Context, owner string) (usedBytes, maxBytes, maxUploadSizeBytes int64, err error)
	Increment(ctx context.Context, owner string, delta int64) error
	Decrement(ctx context.Context, owner string, delta int64) error
}

// ImageProcessor extracts and merges image dimension metadata when the
// uploaded object is an image; a no-op implementation is fine for
// non-image-aware deployments.
type ImageProcessor interface {
	Process(ctx context.Context, owner, key string) error
}

// ScanEnqueuer hands a freshly completed upload to the antivirus pipeline.
type ScanEnqueuer interface {
	Enqueue(ctx context.Context, owner, key string) error
}

// CacheInvalidator is the narrow listing/thumbnail-cache dependency a
// completed upload must fan out to.
type CacheInvalidator interface {
	InvalidateListCache(ctx context.Context, owner string) error
	InvalidateThumbnailCacheForObjectKey(ctx context.Context, owner, key string) error
}

// Service implements the upload component.
type Service struct {
	store      Store
	signer     Signer
	usage      UsageAccountant
	images     ImageProcessor
	scanner    ScanEnqueuer
	invalid    CacheInvalidator
	partURLTTL time.Duration
}

// New constructs a Service. partURLTTL defaults to 1 hour when zero.
func New(store Store, signer Signer, usage UsageAccountant, images ImageProcessor, scanner ScanEnqueuer, invalid CacheInvalidator, partURLTTL time.Duration) *Service {
	if partURLTTL <= 0 {
		partURLTTL = time.Hour
	}

	return &Service{store: store, signer: signer, usage: usage, images: images, scanner: scanner, invalid: invalid, partURLTTL: partURLTTL}
}

// CreateResult is CreateMultipart's response.
type CreateResult struct {
	UploadID string
	Key      string // owner-stripped
}

// CreateMultipart pre-checks usage against MaxUploadSizeBytes and remaining
// quota, then starts a multipart upload.
func (s *Service) CreateMultipart(ctx context.Context, owner, key, contentType string, metadata map[string]string, declaredSize int64) (CreateResult, error) {
	used, max, maxUpload, err := s.usage.UserStorageUsage(ctx, owner)
	if err != nil {
		return CreateResult{}, cverr.Wrap(err, cverr.KindInternal, "checking storage usage")
	}

	if maxUpload > 0 && declaredSize > maxUpload {
		return CreateResult{}, cverr.BadRequest("upload of %d bytes exceeds max upload size %d", declaredSize, maxUpload)
	}

	if max > 0 && used+declaredSize > max {
		return CreateResult{}, cverr.BadRequest("upload would exceed storage quota")
	}

	full := storagekey.JoinKey(owner, key)

	uploadID, err := s.store.CreateMultipartUpload(ctx, full, contentType, metadatacodec.SanitizeForStore(metadata))
	if err != nil {
		return CreateResult{}, cverr.Wrap(err, cverr.KindInternal, "creating multipart upload")
	}

	return CreateResult{UploadID: uploadID, Key: key}, nil
}

// GetPartUrl returns a signed URL for uploading partNumber of uploadID.
func (s *Service) GetPartUrl(ctx context.Context, owner, key, uploadID string, partNumber int) (string, error) {
	full := storagekey.JoinKey(owner, key)

	url, err := s.signer.SignedPartURL(ctx, full, uploadID, partNumber, s.partURLTTL)
	if err != nil {
		return "", cverr.Wrap(err, cverr.KindInternal, "signing part url")
	}

	return url, nil
}

// UploadPart verifies contentMD5 (if supplied) against the buffer, then
// uploads the part.
func (s *Service) UploadPart(ctx context.Context, owner, key, uploadID string, partNumber int, body []byte, contentMD5 string) (etag string, err error) {
	if contentMD5 != "" {
		sum := md5.Sum(body)
		computed := base64.StdEncoding.EncodeToString(sum[:])
		if computed != contentMD5 {
			return "", cverr.BadRequest("content-md5 mismatch")
		}
	}

	full := storagekey.JoinKey(owner, key)

	etag, err = s.store.PutObjectPart(ctx, full, uploadID, partNumber, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", cverr.Wrap(err, cverr.KindInternal, "uploading part")
	}

	return etag, nil
}

// CompleteResult is Complete's response.
type CompleteResult struct {
	Key  string
	Size int64
	ETag string
}

// Complete finishes the multipart upload, reconciles usage, enforces
// post-upload limits with a compensating delete, runs image metadata
// extraction, enqueues an AV scan, and invalidates caches.
func (s *Service) Complete(ctx context.Context, owner, key, uploadID string, parts []Part) (CompleteResult, error) {
	full := storagekey.JoinKey(owner, key)

	if err := s.store.CompleteMultipartUpload(ctx, full, uploadID, parts); err != nil {
		return CompleteResult{}, cverr.Wrap(err, cverr.KindInternal, "completing multipart upload")
	}

	stat, err := s.store.HeadMetadata(ctx, full)
	if err != nil {
		return CompleteResult{}, cverr.Wrap(err, cverr.KindNotFound, "heading completed object")
	}

	if err := s.usage.Increment(ctx, owner, stat.Size); err != nil {
		return CompleteResult{}, cverr.Wrap(err, cverr.KindInternal, "incrementing usage")
	}

	used, max, _, err := s.usage.UserStorageUsage(ctx, owner)
	if err == nil && max > 0 && used > max {
		if derr := s.store.DeleteObject(ctx, full); derr != nil {
			log(ctx).Errorf("compensating delete after limit breach failed for %s/%s: %v", owner, key, derr)
		}

		if uerr := s.usage.Decrement(ctx, owner, stat.Size); uerr != nil {
			log(ctx).Errorf("reverting usage after limit breach failed for %s/%s: %v", owner, key, uerr)
		}

		return CompleteResult{}, cverr.BadRequest("upload exceeded storage quota; object removed")
	}

	if s.images != nil {
		if ierr := s.images.Process(ctx, owner, key); ierr != nil {
			log(ctx).Warnf("image metadata processing failed for %s/%s: %v", owner, key, ierr)
		}
	}

	if s.scanner != nil {
		if serr := s.scanner.Enqueue(ctx, owner, key); serr != nil {
			log(ctx).Warnf("enqueueing antivirus scan failed for %s/%s: %v", owner, key, serr)
		}
	}

	if err := s.invalid.InvalidateThumbnailCacheForObjectKey(ctx, owner, key); err != nil {
		return CompleteResult{}, err
	}

	if err := s.invalid.InvalidateListCache(ctx, owner); err != nil {
		return CompleteResult{}, err
	}

	return CompleteResult{Key: key, Size: stat.Size, ETag: stat.ETag}, nil
}

// Abort cancels an in-progress multipart upload.
func (s *Service) Abort(ctx context.Context, owner, key, uploadID string) error {
	full := storagekey.JoinKey(owner, key)

	if err := s.store.AbortMultipartUpload(ctx, full, uploadID); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "aborting multipart upload")
	}

	return nil
}
