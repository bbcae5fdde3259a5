package mimes_test

import (
	"attache/internal/mimes"
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestSnifferDetectsContentNotName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	// The extension lies on purpose.
	path := writeFile(t, "picture.txt", buf.Bytes())

	got, err := mimes.Sniffer{}.Detect(path)
	require.NoError(t, err)
	require.Equal(t, "image/png", got)
}

func TestSnifferStripsParameters(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "notes.bin", []byte("just some plain text\n"))

	got, err := mimes.Sniffer{}.Detect(path)
	require.NoError(t, err)
	require.Equal(t, "text/plain", got)
}

func TestSnifferMissingFile(t *testing.T) {
	t.Parallel()

	_, err := mimes.Sniffer{}.Detect(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestTables(t *testing.T) {
	t.Parallel()

	ext, ok := mimes.Images.Extension("IMAGE/PNG")
	require.True(t, ok)
	require.Equal(t, "png", ext)

	require.False(t, mimes.Images.Allows("application/pdf"))
	require.True(t, mimes.Files.Allows("application/x-pdf"))
	require.False(t, mimes.Files.Allows("text/plain"))

	require.Equal(t, []string{"image/gif", "image/jpeg", "image/png"}, mimes.Images.Types())
	require.Equal(t, "image/jpeg", mimes.Images.ContentType(".JPG"))
	require.Equal(t, "application/octet-stream", mimes.Images.ContentType("bmp"))
}
