package facade

import (
	"bytes"
	"context"
	"io"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/cvlog"
	"github.com/cloudvault/core/metadatacodec"
	"github.com/cloudvault/core/objectstore"
	"github.com/cloudvault/core/storagekey"
)

var imageLog = cvlog.GetContextLoggerFunc("facade.imageprocessor")

// ImageProcessor implements upload.ImageProcessor and archivejobs.ImageProcessor:
// on upload/extract completion it decodes the uploaded body's image
// dimensions and folds them back into the object's stored metadata.
// Grounded on objectfs's thumbnail-on-write hook pattern, adapted from a
// thumbnail-generation step into a metadata-only dimension read since this
// repo's thumbnails are sampled at list time (listing/thumbnails.go) rather
// than pre-rendered.
type ImageProcessor struct {
	gw *objectstore.Gateway
}

// NewImageProcessor constructs an ImageProcessor over gw.
func NewImageProcessor(gw *objectstore.Gateway) *ImageProcessor {
	return &ImageProcessor{gw: gw}
}

// Process reads the body at owner/key, decodes its image dimensions (a
// no-op for a non-image or undecodable body), and writes them back into the
// object's metadata. Both a full PutObject (body + merged metadata) and a
// CopyObject REPLACE (metadata-only) are issued defensively: the PutObject
// keeps the body and metadata consistent even if the REPLACE copy never
// reaches the store's change feed, and the REPLACE keeps the object's ETag
// and storage class intact when the body round-trip alone would churn them.
func (p *ImageProcessor) Process(ctx context.Context, owner, key string) error {
	full := storagekey.JoinKey(owner, key)

	obj, err := p.gw.GetObject(ctx, full)
	if err != nil {
		return cverr.Wrap(err, cverr.KindNotFound, "reading object for image processing")
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "heading object for image processing")
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "reading object body for image processing")
	}

	dims, ok := metadatacodec.DecodeImageDimensions(data)
	if !ok {
		return nil
	}

	merged := metadatacodec.MergeImageDimensions(metadatacodec.DecodeFromStore(info.UserMetadata), dims)
	sanitized := metadatacodec.SanitizeForStore(merged)

	if _, err := p.gw.PutObject(ctx, full, bytes.NewReader(data), int64(len(data)), info.ContentType, sanitized); err != nil {
		imageLog(ctx).Warnf("defensive body rewrite for %s failed, falling back to metadata copy: %v", full, err)
	}

	if _, err := p.gw.CopyObject(ctx, full, full, sanitized); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "writing image dimension metadata")
	}

	return nil
}
