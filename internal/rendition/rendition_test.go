package rendition_test

import (
	"attache/internal/rendition"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "source.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func decodeFile(t *testing.T, path string) (image.Image, string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, format, err := image.Decode(f)
	require.NoError(t, err)
	return img, format
}

// renderFile opens path with the default transformer and renders spec.
func renderFile(path string, spec rendition.SizeSpec) (*rendition.Rendition, error) {
	src, err := rendition.Default.Open(path)
	if err != nil {
		return nil, err
	}
	return src.Render(spec)
}

func render(t *testing.T, path string, spec rendition.SizeSpec) *rendition.Rendition {
	t.Helper()
	r, err := renderFile(path, spec)
	require.NoError(t, err, "Render error")
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestFixedWidthKeepsAspectRatio(t *testing.T) {
	t.Parallel()

	src := writePNG(t, 400, 200)
	r := render(t, src, rendition.SizeSpec{Name: "medium", Width: 100, Mode: rendition.FixedWidth})

	img, format := decodeFile(t, r.Path)
	require.Equal(t, "png", format, "output keeps the source format")
	require.Equal(t, "image/png", r.ContentType)
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 50, img.Bounds().Dy())
	require.Equal(t, 100, r.Width)
	require.Equal(t, 50, r.Height)
}

func TestAdaptiveExactDimensions(t *testing.T) {
	t.Parallel()

	src := writePNG(t, 300, 120)

	for _, size := range []struct{ w, h int }{{50, 50}, {80, 20}, {20, 90}} {
		r := render(t, src, rendition.SizeSpec{Name: "thumb", Width: size.w, Height: size.h})
		img, _ := decodeFile(t, r.Path)
		require.Equal(t, size.w, img.Bounds().Dx())
		require.Equal(t, size.h, img.Bounds().Dy())
	}
}

func TestCropExactDimensions(t *testing.T) {
	t.Parallel()

	src := writePNG(t, 200, 200)
	r := render(t, src, rendition.SizeSpec{
		Name:   "avatar",
		Width:  64,
		Height: 48,
		Mode:   rendition.Crop,
		Crop:   &rendition.Region{X: 10, Y: 20, Width: 100, Height: 60},
	})

	img, _ := decodeFile(t, r.Path)
	require.Equal(t, 64, img.Bounds().Dx())
	require.Equal(t, 48, img.Bounds().Dy())
}

func TestUpscaleAllowed(t *testing.T) {
	t.Parallel()

	src := writePNG(t, 10, 10)
	r := render(t, src, rendition.SizeSpec{Name: "big", Width: 100, Height: 100, Mode: rendition.Adaptive})

	img, _ := decodeFile(t, r.Path)
	require.Equal(t, image.Pt(100, 100), img.Bounds().Size())
}

func TestPassThroughWritesOriginalBytes(t *testing.T) {
	t.Parallel()

	src := writePNG(t, 30, 20)
	want, err := os.ReadFile(src)
	require.NoError(t, err)

	r := render(t, src, rendition.SizeSpec{Name: "original", Mode: rendition.Crop})

	got, err := os.ReadFile(r.Path)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 30, r.Width)
	require.Equal(t, 20, r.Height)
}

func TestJPEGSourceStaysJPEG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 40)), nil))
	src := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	tr := &rendition.Transformer{JPEGQuality: 70, TempDir: t.TempDir()}
	source, err := tr.Open(src)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", source.ContentType())

	r, err := source.Render(rendition.SizeSpec{Name: "small", Width: 20})
	require.NoError(t, err)
	defer r.Close()

	_, format := decodeFile(t, r.Path)
	require.Equal(t, "jpeg", format)
	require.Equal(t, tr.TempDir, filepath.Dir(r.Path))
}

func TestRenditionCloseRemovesFile(t *testing.T) {
	t.Parallel()

	r, err := renderFile(writePNG(t, 10, 10), rendition.SizeSpec{Name: "x", Width: 5})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "second Close must be a no-op")

	_, err = os.Stat(r.Path)
	require.True(t, os.IsNotExist(err))
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	src := writePNG(t, 50, 50)

	_, err := renderFile(src, rendition.SizeSpec{Name: "odd", Width: 10, Height: 10, Mode: "stretch"})
	require.ErrorIs(t, err, rendition.ErrUnsupportedMode)

	_, err = renderFile(src, rendition.SizeSpec{
		Name: "outside", Width: 10, Height: 10, Mode: rendition.Crop,
		Crop: &rendition.Region{X: 60, Y: 60, Width: 10, Height: 10},
	})
	require.ErrorIs(t, err, rendition.ErrCropOutOfBounds)

	corrupt := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("\x89PNG\r\n\x1a\nnot really"), 0o644))
	_, err = renderFile(corrupt, rendition.SizeSpec{Name: "thumb", Width: 10})
	require.ErrorIs(t, err, rendition.ErrDecode)
}

func TestSizeSpecValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    rendition.SizeSpec
		wantErr error
	}{
		{name: "pass through", spec: rendition.SizeSpec{Name: "original"}},
		{name: "width only", spec: rendition.SizeSpec{Name: "w", Width: 10}},
		{name: "adaptive default", spec: rendition.SizeSpec{Name: "wh", Width: 10, Height: 10}},
		{name: "fixed width missing width", spec: rendition.SizeSpec{Name: "h", Height: 10, Mode: rendition.FixedWidth}, wantErr: rendition.ErrInvalidSpec},
		{name: "adaptive missing height", spec: rendition.SizeSpec{Name: "a", Width: 10, Mode: rendition.Adaptive}, wantErr: rendition.ErrInvalidSpec},
		{name: "crop missing region", spec: rendition.SizeSpec{Name: "c", Width: 10, Height: 10, Mode: rendition.Crop}, wantErr: rendition.ErrInvalidSpec},
		{name: "negative", spec: rendition.SizeSpec{Name: "n", Width: -1}, wantErr: rendition.ErrInvalidSpec},
		{name: "unknown mode", spec: rendition.SizeSpec{Name: "u", Width: 10, Mode: "zoom"}, wantErr: rendition.ErrUnsupportedMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.spec.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	require.Equal(t, rendition.FixedWidth, rendition.SizeSpec{Width: 10}.Normalized().Mode)
	require.Equal(t, rendition.Adaptive, rendition.SizeSpec{Width: 10, Height: 5}.Normalized().Mode)
}

func TestPlaceholderURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://placehold.co/100x50", rendition.PlaceholderURL(100, 50))
	require.Equal(t, "https://placehold.co/80x80", rendition.PlaceholderURL(80, 0))
}
