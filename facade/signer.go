package facade

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/objectstore"
)

// Signer issues presigned GET/PUT URLs against the configured bucket and
// rewrites the signed host to the gateway's public hostname, the way a
// reverse proxy in front of the object store would. One Signer value
// satisfies listing.Signer, objectsvc.Signer, and upload.Signer: all three
// need SignedURL with an identical signature, and a shared implementation
// keeps presign/host-rewrite logic in one place.
type Signer struct {
	gw *objectstore.Gateway
}

// NewSigner wraps gw for presigned-URL issuance.
func NewSigner(gw *objectstore.Gateway) *Signer {
	return &Signer{gw: gw}
}

// SignedURL returns a presigned GET URL for key valid for ttl.
func (s *Signer) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.gw.GetClient().PresignedGetObject(ctx, s.gw.GetBuckets()[0], key, ttl, url.Values{})
	if err != nil {
		return "", cverr.Wrap(err, cverr.KindInternal, "presigning object url")
	}

	return s.rewriteHost(u), nil
}

// PublicURL returns the gateway's direct (unsigned) URL for key, used when
// the caller has already established it may access key without a token
// (e.g. a public share link resolved upstream of the facade).
func (s *Signer) PublicURL(key string) string {
	return s.gw.GetUrl(key)
}

// SignedPartURL returns a presigned PUT URL for one multipart upload part,
// using minio's generic Presign with the partNumber/uploadId query
// parameters S3 expects on a part upload.
func (s *Signer) SignedPartURL(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	values := url.Values{}
	values.Set("partNumber", strconv.Itoa(partNumber))
	values.Set("uploadId", uploadID)

	u, err := s.gw.GetClient().Presign(ctx, "PUT", s.gw.GetBuckets()[0], key, ttl, values)
	if err != nil {
		return "", cverr.Wrap(err, cverr.KindInternal, "presigning part url")
	}

	return s.rewriteHost(u), nil
}

// rewriteHost substitutes the gateway's configured public hostname for the
// internal endpoint minio signed against, preserving path and query
// (and therefore the signature).
func (s *Signer) rewriteHost(u *url.URL) string {
	if host := s.gw.GetPublicHostname(); host != "" {
		u.Host = host
	}

	return u.String()
}
