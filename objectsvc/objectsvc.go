// Package objectsvc implements single-object operations: find, presigned
// URL, move, delete, update (rename and/or metadata replace with a
// read-modify-write fallback for providers that drop metadata on an
// in-place copy). Grounded on fs/entry and dir/entry.go's thin wrapper
// pattern over a single path entry, generalized here to the object store.
package objectsvc

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/metadatacodec"
	"github.com/cloudvault/core/storagekey"
)

// Stat is an object's existence/size/metadata snapshot.
type Stat struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Store is the narrow object-store dependency objectsvc needs.
type Store interface {
	HeadMetadata(ctx context.Context, key string) (Stat, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)
	PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error
	CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string, replace bool) error
	DeleteObject(ctx context.Context, key string) error
}

// Signer resolves a presigned URL for key, clamped to the service's
// configured maximum TTL.
type Signer interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CacheInvalidator is the narrow listing/thumbnail-cache dependency every
// mutation must fan out to.
type CacheInvalidator interface {
	InvalidateListCache(ctx context.Context, owner string) error
	InvalidateThumbnailCacheForObjectKey(ctx context.Context, owner, key string) error
}

// Service implements the object component.
type Service struct {
	store   Store
	signer  Signer
	invalid CacheInvalidator
	maxTTL  time.Duration
}

// New constructs a Service. maxTTL bounds every presigned URL this service
// issues.
func New(store Store, signer Signer, invalid CacheInvalidator, maxTTL time.Duration) *Service {
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}

	return &Service{store: store, signer: signer, invalid: invalid, maxTTL: maxTTL}
}

func notFoundIfMissing(err error) error {
	if err == nil {
		return nil
	}

	if cverr.Is(err, cverr.KindNotFound) {
		return cverr.Wrap(err, cverr.KindNotFound, "object not found")
	}

	return cverr.Wrap(err, cverr.KindInternal, "object store operation failed")
}

// Find heads key and returns its record with decoded metadata.
func (s *Service) Find(ctx context.Context, owner, key string) (Stat, error) {
	full := storagekey.JoinKey(owner, key)

	stat, err := s.store.HeadMetadata(ctx, full)
	if err != nil {
		return Stat{}, notFoundIfMissing(err)
	}

	stat.Metadata = metadatacodec.DecodeFromStore(stat.Metadata)
	return stat, nil
}

// GetPresignedUrl checks key exists, then returns a signed URL with ttl
// clamped to the service's configured maximum.
func (s *Service) GetPresignedUrl(ctx context.Context, owner, key string, ttl time.Duration) (string, error) {
	full := storagekey.JoinKey(owner, key)

	if _, err := s.store.HeadMetadata(ctx, full); err != nil {
		return "", notFoundIfMissing(err)
	}

	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	url, err := s.signer.SignedURL(ctx, full, ttl)
	if err != nil {
		return "", cverr.Wrap(err, cverr.KindInternal, "signing url")
	}

	return url, nil
}

// Move copies each of sourceKeys into the directory destinationKey
// (preserving each source's basename) then deletes the source.
func (s *Service) Move(ctx context.Context, owner string, sourceKeys []string, destinationKey string) error {
	destPrefix := storagekey.NormalizeDir(destinationKey)

	for _, src := range sourceKeys {
		srcFull := storagekey.JoinKey(owner, src)
		base := src
		if idx := strings.LastIndex(src, "/"); idx >= 0 {
			base = src[idx+1:]
		}

		dstFull := storagekey.JoinKey(owner, destPrefix, base)

		if err := s.store.CopyObject(ctx, srcFull, dstFull, nil, false); err != nil {
			return notFoundIfMissing(err)
		}

		if err := s.store.DeleteObject(ctx, srcFull); err != nil {
			return cverr.Wrap(err, cverr.KindInternal, "deleting source after move")
		}
	}

	if err := s.invalid.InvalidateListCache(ctx, owner); err != nil {
		return err
	}

	return nil
}

// Delete removes each non-directory item.
func (s *Service) Delete(ctx context.Context, owner string, keys []string) error {
	for _, key := range keys {
		if storagekey.IsPlaceholder(key) {
			continue
		}

		full := storagekey.JoinKey(owner, key)
		if err := s.store.DeleteObject(ctx, full); err != nil {
			return notFoundIfMissing(err)
		}

		if err := s.invalid.InvalidateThumbnailCacheForObjectKey(ctx, owner, key); err != nil {
			return err
		}
	}

	return s.invalid.InvalidateListCache(ctx, owner)
}

// UpdateRequest is a single Update call's parameters.
type UpdateRequest struct {
	Key      string
	NewName  string // rename target leaf; "" means no rename
	Metadata map[string]string
}

// Update renames key and/or replaces its metadata.
func (s *Service) Update(ctx context.Context, owner string, req UpdateRequest) (Stat, error) {
	full := storagekey.JoinKey(owner, req.Key)

	var mergedMetadata map[string]string
	metadataChanged := len(req.Metadata) > 0

	if metadataChanged {
		existing, err := s.store.HeadMetadata(ctx, full)
		if err != nil {
			return Stat{}, notFoundIfMissing(err)
		}

		mergedMetadata = mergeMetadata(existing.Metadata, metadatacodec.SanitizeForStore(req.Metadata))
	}

	targetKey := full
	renaming := req.NewName != ""

	if renaming {
		if err := storagekey.ValidateLeafName(req.NewName); err != nil {
			return Stat{}, err
		}

		dir := strings.TrimSuffix(full, "/"+pathBase(full))
		targetKey = dir + "/" + req.NewName
	}

	if renaming || metadataChanged {
		if err := s.store.CopyObject(ctx, full, targetKey, mergedMetadata, metadataChanged); err != nil {
			return Stat{}, notFoundIfMissing(err)
		}

		if metadataChanged {
			if err := s.verifyMetadataOrFallback(ctx, full, targetKey, mergedMetadata); err != nil {
				return Stat{}, err
			}
		}

		if renaming {
			if err := s.store.DeleteObject(ctx, full); err != nil {
				return Stat{}, cverr.Wrap(err, cverr.KindInternal, "deleting source after rename")
			}
		}
	}

	if err := s.invalid.InvalidateListCache(ctx, owner); err != nil {
		return Stat{}, err
	}

	stat, err := s.store.HeadMetadata(ctx, targetKey)
	if err != nil {
		return Stat{}, notFoundIfMissing(err)
	}

	stat.Metadata = metadatacodec.DecodeFromStore(stat.Metadata)
	return stat, nil
}

// verifyMetadataOrFallback heads target after the copy and, if any provided
// metadata key is missing, falls back to Get(target)+Put with the
// full body and explicit metadata — a workaround for object stores that
// silently drop metadata on an in-place copy.
func (s *Service) verifyMetadataOrFallback(ctx context.Context, src, target string, want map[string]string) error {
	after, err := s.store.HeadMetadata(ctx, target)
	if err != nil {
		return notFoundIfMissing(err)
	}

	for k, v := range want {
		if after.Metadata[k] != v {
			body, size, err := s.store.GetObject(ctx, target)
			if err != nil {
				return notFoundIfMissing(err)
			}
			defer body.Close()

			return s.store.PutObject(ctx, target, body, size, want)
		}
	}

	return nil
}

func mergeMetadata(existing, provided map[string]string) map[string]string {
	out := make(map[string]string, len(existing)+len(provided))
	for k, v := range existing {
		out[k] = v
	}

	for k, v := range provided {
		out[k] = v
	}

	return out
}

func pathBase(key string) string {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[idx+1:]
	}

	return key
}
