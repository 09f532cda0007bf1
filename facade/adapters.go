// Package facade composes the components (directory, listing, objectsvc,
// upload, archivejobs, antivirus, usage) into the single service boundary
// the transport layer calls, the way kopia/cli/app.go's appServices
// interface composes the repo, storage, and progress layers behind one
// object instead of handing every command its own wiring. It also owns the
// narrow per-consumer adapters that translate objectstore.Gateway's
// minio-native methods into each component's consumer-defined interface —
// no component imports minio directly.
package facade

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/cloudvault/core/archivejobs"
	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/directory"
	"github.com/cloudvault/core/listing"
	"github.com/cloudvault/core/objectstore"
	"github.com/cloudvault/core/objectsvc"
	"github.com/cloudvault/core/storagekey"
	"github.com/cloudvault/core/upload"
)

// sizeOf heads an opened *minio.Object for its size, since minio.Client's
// GetObject does not return the size up front the way the narrower
// interfaces below require.
func sizeOf(obj *minio.Object) (int64, error) {
	info, err := obj.Stat()
	if err != nil {
		return 0, err
	}

	return info.Size, nil
}

func translateErr(err error, msg string) error {
	if err == nil {
		return nil
	}

	if objectstore.IsNotFoundError(err) {
		return cverr.Wrap(err, cverr.KindNotFound, msg)
	}

	return cverr.Wrap(err, cverr.KindInternal, msg)
}

// directoryStore adapts *objectstore.Gateway to directory.ObjectStore.
type directoryStore struct{ gw *objectstore.Gateway }

func (a directoryStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := a.gw.GetObject(ctx, key)
	if err != nil {
		return nil, translateErr(err, "getting object")
	}

	return obj, nil
}

func (a directoryStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) error {
	_, err := a.gw.PutObject(ctx, key, body, size, contentType, metadata)
	return translateErr(err, "putting object")
}

func (a directoryStore) DeleteObject(ctx context.Context, key string) error {
	return translateErr(a.gw.DeleteObject(ctx, key), "deleting object")
}

func (a directoryStore) CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string) error {
	_, err := a.gw.CopyObject(ctx, srcKey, dstKey, metadata)
	return translateErr(err, "copying object")
}

func (a directoryStore) ListV2(ctx context.Context, prefix, delimiter, startAfter, continuationToken string, maxKeys int) (directory.Page, error) {
	page, err := a.gw.ListV2(ctx, prefix, delimiter, startAfter, continuationToken, maxKeys)
	if err != nil {
		return directory.Page{}, translateErr(err, "listing objects")
	}

	out := directory.Page{NextContinuation: page.NextContinuation, IsTruncated: page.IsTruncated}
	for _, o := range page.Objects {
		out.Objects = append(out.Objects, directory.ObjectStat{Key: o.Key, Size: o.Size})
	}

	return out, nil
}

// listingStore adapts *objectstore.Gateway to listing.Store.
type listingStore struct{ gw *objectstore.Gateway }

func (a listingStore) ListV2(ctx context.Context, prefix, delimiter, startAfter, continuationToken string, maxKeys int) (listing.Page, error) {
	page, err := a.gw.ListV2(ctx, prefix, delimiter, startAfter, continuationToken, maxKeys)
	if err != nil {
		return listing.Page{}, translateErr(err, "listing objects")
	}

	out := listing.Page{
		CommonPrefixes:   page.CommonPrefixes,
		NextContinuation: page.NextContinuation,
		IsTruncated:      page.IsTruncated,
	}

	for _, o := range page.Objects {
		out.Objects = append(out.Objects, listing.ObjectInfo{
			Key: o.Key, Size: o.Size, ETag: o.ETag, LastModified: o.LastModified,
		})
	}

	return out, nil
}

func (a listingStore) HeadMetadata(ctx context.Context, key string) (map[string]string, error) {
	info, err := a.gw.HeadObject(ctx, key)
	if err != nil {
		return nil, translateErr(err, "heading object")
	}

	return info.UserMetadata, nil
}

// objectSvcStore adapts *objectstore.Gateway to objectsvc.Store.
type objectSvcStore struct{ gw *objectstore.Gateway }

func (a objectSvcStore) HeadMetadata(ctx context.Context, key string) (objectsvc.Stat, error) {
	info, err := a.gw.HeadObject(ctx, key)
	if err != nil {
		return objectsvc.Stat{}, translateErr(err, "heading object")
	}

	return objectsvc.Stat{
		Key: key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified,
		Metadata: info.UserMetadata,
	}, nil
}

func (a objectSvcStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := a.gw.GetObject(ctx, key)
	if err != nil {
		return nil, 0, translateErr(err, "getting object")
	}

	size, err := sizeOf(obj)
	if err != nil {
		obj.Close()
		return nil, 0, translateErr(err, "heading object body")
	}

	return obj, size, nil
}

func (a objectSvcStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error {
	_, err := a.gw.PutObject(ctx, key, body, size, "", metadata)
	return translateErr(err, "putting object")
}

func (a objectSvcStore) CopyObject(ctx context.Context, srcKey, dstKey string, metadata map[string]string, replace bool) error {
	var m map[string]string
	if replace {
		if metadata == nil {
			m = map[string]string{}
		} else {
			m = metadata
		}
	}

	_, err := a.gw.CopyObject(ctx, srcKey, dstKey, m)
	return translateErr(err, "copying object")
}

func (a objectSvcStore) DeleteObject(ctx context.Context, key string) error {
	return translateErr(a.gw.DeleteObject(ctx, key), "deleting object")
}

// uploadStore adapts *objectstore.Gateway to upload.Store.
type uploadStore struct{ gw *objectstore.Gateway }

func (a uploadStore) CreateMultipartUpload(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	id, err := a.gw.CreateMultipartUpload(ctx, key, contentType, metadata)
	return id, translateErr(err, "creating multipart upload")
}

func (a uploadStore) PutObjectPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (string, error) {
	part, err := a.gw.PutObjectPart(ctx, key, uploadID, partNumber, body, size, "", "")
	if err != nil {
		return "", translateErr(err, "uploading part")
	}

	return part.ETag, nil
}

func (a uploadStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []upload.Part) error {
	mp := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		mp[i] = minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	_, err := a.gw.CompleteMultipartUpload(ctx, key, uploadID, mp)
	return translateErr(err, "completing multipart upload")
}

func (a uploadStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return translateErr(a.gw.AbortMultipartUpload(ctx, key, uploadID), "aborting multipart upload")
}

func (a uploadStore) HeadMetadata(ctx context.Context, key string) (upload.Stat, error) {
	info, err := a.gw.HeadObject(ctx, key)
	if err != nil {
		return upload.Stat{}, translateErr(err, "heading object")
	}

	return upload.Stat{Key: key, Size: info.Size, ETag: info.ETag}, nil
}

func (a uploadStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := a.gw.GetObject(ctx, key)
	if err != nil {
		return nil, 0, translateErr(err, "getting object")
	}

	size, err := sizeOf(obj)
	if err != nil {
		obj.Close()
		return nil, 0, translateErr(err, "heading object body")
	}

	return obj, size, nil
}

func (a uploadStore) DeleteObject(ctx context.Context, key string) error {
	return translateErr(a.gw.DeleteObject(ctx, key), "deleting object")
}

// extractStore adapts *objectstore.Gateway to archivejobs.ExtractObjectStore.
type extractStore struct{ gw *objectstore.Gateway }

func (a extractStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := a.gw.GetObject(ctx, key)
	if err != nil {
		return nil, 0, translateErr(err, "getting object")
	}

	size, err := sizeOf(obj)
	if err != nil {
		obj.Close()
		return nil, 0, translateErr(err, "heading object body")
	}

	return obj, size, nil
}

func (a extractStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error {
	_, err := a.gw.PutObject(ctx, key, body, size, "", metadata)
	return translateErr(err, "putting extracted entry")
}

// createStore adapts *objectstore.Gateway to archivejobs.CreateObjectStore.
type createStore struct{ gw *objectstore.Gateway }

func (a createStore) HeadMetadata(ctx context.Context, key string) (int64, error) {
	info, err := a.gw.HeadObject(ctx, key)
	if err != nil {
		return 0, translateErr(err, "heading create source")
	}

	return info.Size, nil
}

func (a createStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := a.gw.GetObject(ctx, key)
	if err != nil {
		return nil, 0, translateErr(err, "getting create source")
	}

	size, err := sizeOf(obj)
	if err != nil {
		obj.Close()
		return nil, 0, translateErr(err, "heading create source body")
	}

	return obj, size, nil
}

func (a createStore) ListV2(ctx context.Context, prefix, continuationToken string, maxKeys int) ([]string, []int64, string, bool, error) {
	page, err := a.gw.ListV2(ctx, prefix, "", "", continuationToken, maxKeys)
	if err != nil {
		return nil, nil, "", false, translateErr(err, "listing create source directory")
	}

	keys := make([]string, len(page.Objects))
	sizes := make([]int64, len(page.Objects))

	for i, o := range page.Objects {
		keys[i] = o.Key
		sizes[i] = o.Size
	}

	return keys, sizes, page.NextContinuation, page.IsTruncated, nil
}

func (a createStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	id, err := a.gw.CreateMultipartUpload(ctx, key, "application/zip", nil)
	return id, translateErr(err, "creating archive upload")
}

func (a createStore) PutObjectPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (string, error) {
	part, err := a.gw.PutObjectPart(ctx, key, uploadID, partNumber, body, size, "", "")
	if err != nil {
		return "", translateErr(err, "uploading archive part")
	}

	return part.ETag, nil
}

func (a createStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, etags []string) error {
	parts := make([]minio.CompletePart, len(etags))
	for i, etag := range etags {
		parts[i] = minio.CompletePart{PartNumber: i + 1, ETag: etag}
	}

	_, err := a.gw.CompleteMultipartUpload(ctx, key, uploadID, parts)
	return translateErr(err, "completing archive upload")
}

func (a createStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return translateErr(a.gw.AbortMultipartUpload(ctx, key, uploadID), "aborting archive upload")
}

// avStore adapts *objectstore.Gateway to antivirus.Store.
type avStore struct{ gw *objectstore.Gateway }

func (a avStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := a.gw.GetObject(ctx, key)
	if err != nil {
		return nil, 0, translateErr(err, "getting object for scan")
	}

	size, err := sizeOf(obj)
	if err != nil {
		obj.Close()
		return nil, 0, translateErr(err, "heading object for scan")
	}

	return obj, size, nil
}

// usageLister adapts *objectstore.Gateway to usage.Lister by summing object
// sizes across a flat, fully-paginated scan of prefix.
type usageLister struct{ gw *objectstore.Gateway }

func (a usageLister) SumSizeUnderPrefix(ctx context.Context, prefix string) (int64, error) {
	var total int64
	continuation := ""

	for {
		page, err := a.gw.ListV2(ctx, prefix, "", "", continuation, 1000)
		if err != nil {
			return 0, translateErr(err, "scanning usage prefix")
		}

		for _, o := range page.Objects {
			if storagekey.IsPlaceholder(o.Key) {
				continue
			}

			total += o.Size
		}

		if !page.IsTruncated {
			break
		}

		continuation = page.NextContinuation
	}

	return total, nil
}
