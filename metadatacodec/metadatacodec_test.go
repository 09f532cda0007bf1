package metadatacodec_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/metadatacodec"
)

func TestSanitizeForStoreASCII(t *testing.T) {
	out := metadatacodec.SanitizeForStore(map[string]string{
		"Content Type!": "  line one\nline two  ",
	})

	require.Equal(t, "line one line two", out["content-type-"])
}

func TestSanitizeForStoreNonASCII(t *testing.T) {
	out := metadatacodec.SanitizeForStore(map[string]string{"title": "café"})
	require.Contains(t, out["title"], "b64:")
}

func TestRoundTrip(t *testing.T) {
	original := map[string]string{"original-name": "café.txt"}
	stored := metadatacodec.SanitizeForStore(original)
	decoded := metadatacodec.DecodeFromStore(stored)

	require.Equal(t, "café.txt", decoded["OriginalName"])
}

func TestPascalizeOnDecode(t *testing.T) {
	decoded := metadatacodec.DecodeFromStore(map[string]string{"image-width": "100"})
	require.Equal(t, "100", decoded["ImageWidth"])
}

func TestDecodeImageDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 20))
	img.Set(0, 0, color.White)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	dims, ok := metadatacodec.DecodeImageDimensions(buf.Bytes())
	require.True(t, ok)
	require.Equal(t, 10, dims.Width)
	require.Equal(t, 20, dims.Height)
}

func TestDecodeImageDimensionsNotAnImage(t *testing.T) {
	_, ok := metadatacodec.DecodeImageDimensions([]byte("not an image"))
	require.False(t, ok)
}

func TestMergeImageDimensions(t *testing.T) {
	merged := metadatacodec.MergeImageDimensions(map[string]string{"a": "b"}, metadatacodec.ImageDimensions{Width: 10, Height: 5})
	require.Equal(t, "b", merged["a"])
	require.Equal(t, "10", merged["width"])
	require.Equal(t, "5", merged["height"])
}
