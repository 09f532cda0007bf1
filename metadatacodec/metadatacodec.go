// Package metadatacodec sanitizes user-supplied object metadata for storage
// in an S3-compatible backend (which restricts header names and rejects
// non-ASCII values), reverses that encoding on read, and extracts image
// dimensions for the upload-complete pipeline. Grounded on the key
// normalization style of storagekey and the codec boundary kopia draws
// between its in-memory manifest entries and what actually gets persisted
// (manifest/manifest_manager.go's JSON marshal/unmarshal split).
package metadatacodec

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"
	"unicode"

	_ "golang.org/x/image/webp"
)

const b64Prefix = "b64:"

// SanitizeForStore lowercases keys, replaces any byte outside [a-z0-9_-]
// with '-', and line-flattens + trims values. A value containing any
// non-ASCII byte is replaced wholesale with "b64:" + base64(utf8), since the
// object store's metadata headers are ASCII-only.
func SanitizeForStore(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))

	for k, v := range m {
		key := sanitizeKey(k)
		if key == "" {
			continue
		}

		out[key] = sanitizeValue(v)
	}

	return out
}

func sanitizeKey(k string) string {
	k = strings.ToLower(k)

	var b strings.Builder
	for _, r := range k {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}

	return b.String()
}

func sanitizeValue(v string) string {
	flattened := flattenLines(v)
	flattened = strings.TrimSpace(flattened)

	for _, r := range flattened {
		if r > unicode.MaxASCII {
			return b64Prefix + base64.StdEncoding.EncodeToString([]byte(flattened))
		}
	}

	return flattened
}

func flattenLines(v string) string {
	v = strings.ReplaceAll(v, "\r\n", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}

// DecodeFromStore reverses SanitizeForStore's b64: encoding and pascalizes
// keys (e.g. "content-type" -> "ContentType") for presentation back to
// callers.
func DecodeFromStore(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))

	for k, v := range m {
		out[pascalize(k)] = decodeValue(v)
	}

	return out
}

func decodeValue(v string) string {
	if !strings.HasPrefix(v, b64Prefix) {
		return v
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, b64Prefix))
	if err != nil {
		return v
	}

	return string(decoded)
}

func pascalize(k string) string {
	parts := strings.FieldsFunc(k, func(r rune) bool { return r == '-' || r == '_' })

	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}

		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}

	return b.String()
}

// ImageDimensions holds the decoded width/height of an image body.
type ImageDimensions struct {
	Width  int
	Height int
}

// DecodeImageDimensions sniffs body's format and returns its pixel
// dimensions. Returns ok=false (no error) when body is not a recognized
// image format, matching the design's "on success write back" phrasing —
// failure to decode is not an upload error.
func DecodeImageDimensions(body []byte) (dims ImageDimensions, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return ImageDimensions{}, false
	}

	return ImageDimensions{Width: cfg.Width, Height: cfg.Height}, true
}

// MergeImageDimensions returns a copy of metadata with width/height keys
// merged in, in the sanitized key form the store expects.
func MergeImageDimensions(metadata map[string]string, dims ImageDimensions) map[string]string {
	out := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}

	out["width"] = strconv.Itoa(dims.Width)
	out["height"] = strconv.Itoa(dims.Height)
	return out
}
