// Package objectstore is a thin wrapper over the S3-compatible object store
// client. It exposes the handful of low-level primitives the rest of the
// core composes (Head/Get/Put/Copy/Delete/List/multipart); no directory,
// encryption, or archive semantics live here. Grounded on the layering in
// storage/s3 (a thin storage.Storage implementation over the S3 client) and
// blob/gcs/gcs_storage.go (NotFound-code translation at the gateway edge,
// not at every call site).
package objectstore

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/cloudvault/core/cverr"
)

// Options configures a Gateway.
type Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string

	// PublicHostname, when set, is substituted for Endpoint in URLs
	// returned to callers (e.g. a CDN domain in front of the bucket).
	PublicHostname string
}

// Gateway is the low-level object-store client. It holds no owner or
// directory concept; callers pass fully qualified keys.
type Gateway struct {
	client *minio.Client
	core   *minio.Core
	bucket string
	opts   Options
}

// New constructs a Gateway from Options.
func New(opts Options) (*Gateway, error) {
	creds := credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, "")

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object store client")
	}

	core, err := minio.NewCore(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object store core client")
	}

	return &Gateway{client: client, core: core, bucket: opts.Bucket, opts: opts}, nil
}

// GetClient returns the underlying high-level client for callers that need
// an operation this gateway does not yet expose.
func (g *Gateway) GetClient() *minio.Client { return g.client }

// GetCore returns the underlying low-level client used for multipart
// primitives.
func (g *Gateway) GetCore() *minio.Core { return g.core }

// GetBuckets returns the configured bucket name. The core is single-bucket
// per deployment; multi-tenancy is expressed through key prefixes, not
// separate buckets.
func (g *Gateway) GetBuckets() []string { return []string{g.bucket} }

// GetKey returns key with the owner prefix applied.
func (g *Gateway) GetKey(key, owner string) string {
	owner = strings.Trim(owner, "/")
	key = strings.Trim(key, "/")
	if owner == "" {
		return key
	}

	return owner + "/" + key
}

// GetPublicHostname returns the hostname used to rewrite object URLs for
// public (non-presigned) access, falling back to the configured endpoint.
func (g *Gateway) GetPublicHostname() string {
	if g.opts.PublicHostname != "" {
		return g.opts.PublicHostname
	}

	return g.opts.Endpoint
}

// GetUrl builds a public (non-signed) URL for key.
func (g *Gateway) GetUrl(key string) string {
	scheme := "http"
	if g.opts.UseSSL {
		scheme = "https"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   g.GetPublicHostname(),
		Path:   "/" + g.bucket + "/" + key,
	}

	return u.String()
}

// IsNotFoundError reports whether err corresponds to the object-store's
// NotFound family of error codes.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	resp := minio.ToErrorResponse(errors.Cause(err))
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}

	return false
}

// HeadObject stats the object at key, returning its ObjectInfo.
func (g *Gateway) HeadObject(ctx context.Context, key string) (minio.ObjectInfo, error) {
	info, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, translate(err)
	}

	return info, nil
}

// GetObject opens a streaming reader for key.
func (g *Gateway) GetObject(ctx context.Context, key string) (*minio.Object, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}

	return obj, nil
}

// PutObject uploads body (size bytes, or -1 if unknown) to key with the
// given metadata and content type.
func (g *Gateway) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (minio.UploadInfo, error) {
	info, err := g.client.PutObject(ctx, g.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return minio.UploadInfo{}, translate(err)
	}

	return info, nil
}

// CopyObject copies srcKey to dstKey. When metadata is non-nil, it replaces
// the destination's user metadata (MetadataDirective=REPLACE); otherwise the
// source metadata is preserved (COPY).
func (g *Gateway) CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string) (minio.UploadInfo, error) {
	src := minio.CopySrcOptions{Bucket: g.bucket, Object: srcKey}
	dst := minio.CopyDestOptions{Bucket: g.bucket, Object: dstKey}

	if metadata != nil {
		dst.UserMetadata = metadata
		dst.ReplaceMetadata = true
	}

	info, err := g.client.CopyObject(ctx, dst, src)
	if err != nil {
		return minio.UploadInfo{}, translate(err)
	}

	return info, nil
}

// DeleteObject removes key.
func (g *Gateway) DeleteObject(ctx context.Context, key string) error {
	if err := g.client.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return translate(err)
	}

	return nil
}

// ListV2Page holds one page of a ListObjectsV2 call.
type ListV2Page struct {
	Objects          []minio.ObjectInfo
	CommonPrefixes   []string
	NextContinuation string
	IsTruncated      bool
}

// ListV2 lists objects under prefix, honoring delimiter (pass "" for a flat
// listing) and startAfter (seek). maxKeys (clamped to ≤1000) is passed to
// the client as its per-request size, but the client's iterator follows
// every page, so the returned page holds all matching objects;
// continuationToken is ignored, and NextContinuation and IsTruncated are
// never set.
func (g *Gateway) ListV2(ctx context.Context, prefix, delimiter, startAfter, continuationToken string, maxKeys int) (ListV2Page, error) {
	if maxKeys <= 0 || maxKeys > 1000 {
		maxKeys = 1000
	}

	objectsCh := g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    delimiter == "",
		StartAfter:   startAfter,
		MaxKeys:      maxKeys,
		WithMetadata: false,
	})

	page := ListV2Page{}
	seenPrefixes := map[string]bool{}

	for obj := range objectsCh {
		if obj.Err != nil {
			return ListV2Page{}, translate(obj.Err)
		}

		if delimiter != "" && strings.HasSuffix(obj.Key, delimiter) && obj.Size == 0 {
			if !seenPrefixes[obj.Key] {
				seenPrefixes[obj.Key] = true
				page.CommonPrefixes = append(page.CommonPrefixes, obj.Key)
			}

			continue
		}

		page.Objects = append(page.Objects, obj)
	}

	return page, nil
}

// CreateMultipartUpload starts a multipart upload for key.
func (g *Gateway) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	uploadID, err := g.core.NewMultipartUpload(ctx, g.bucket, key, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return "", translate(err)
	}

	return uploadID, nil
}

// PutObjectPart uploads one part of a multipart upload server-side through
// the core client (presigned part URLs for direct client uploads are issued
// outside this package, per the presigned-URL boundary).
func (g *Gateway) PutObjectPart(ctx context.Context, key, uploadID string, partNumber int, data io.Reader, size int64, md5Base64, sha256Hex string) (minio.ObjectPart, error) {
	part, err := g.core.PutObjectPart(ctx, g.bucket, key, uploadID, partNumber, data, size, minio.PutObjectPartOptions{
		Md5Base64: md5Base64,
		Sha256Hex: sha256Hex,
	})
	if err != nil {
		return minio.ObjectPart{}, translate(err)
	}

	return part, nil
}

// CompleteMultipartUpload finalizes a multipart upload given its parts
// (ascending PartNumber is the caller's responsibility per the design's
// ordering guarantee).
func (g *Gateway) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []minio.CompletePart) (minio.UploadInfo, error) {
	info, err := g.core.CompleteMultipartUpload(ctx, g.bucket, key, uploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return minio.UploadInfo{}, translate(err)
	}

	return info, nil
}

// AbortMultipartUpload cancels an in-progress multipart upload.
func (g *Gateway) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := g.core.AbortMultipartUpload(ctx, g.bucket, key, uploadID); err != nil {
		return translate(err)
	}

	return nil
}

// translate converts a NotFound-family object-store error into the core's
// not_found Kind; everything else is returned unchanged, per the design's
// "Object-store NotFound is translated to not_found at the object-service
// boundary; other low-level errors bubble up unchanged" rule (the gateway
// is where NotFound is recognizable, so the translation happens here once).
func translate(err error) error {
	if err == nil {
		return nil
	}

	if IsNotFoundError(err) {
		return cverr.Wrap(err, cverr.KindNotFound, "object not found")
	}

	return err
}
