// Package rendition renders the configured size variants of an uploaded
// image.
package rendition

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used when Transformer.JPEGQuality is zero.
const DefaultJPEGQuality = 90

// Transformer opens source images for rendering.
type Transformer struct {
	// JPEGQuality is the encoder quality for JPEG output, 1-100.
	JPEGQuality int
	// TempDir holds rendition files. Empty uses os.TempDir.
	TempDir string
}

// Default is the Transformer images use when none is configured.
var Default = &Transformer{}

// Open reads and decodes the image at path with EXIF orientation applied.
func (t *Transformer) Open(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source image: %w", err)
	}

	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrDecode, name)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &Source{t: t, data: data, img: img, format: format}, nil
}

// Source is a decoded original. Every variant rendered from one Source
// derives from the same bytes.
type Source struct {
	t      *Transformer
	data   []byte
	img    image.Image
	format imaging.Format
}

// Bounds returns the oriented source dimensions.
func (s *Source) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// ContentType returns the media type of the source format.
func (s *Source) ContentType() string {
	return contentType(s.format)
}

// Render produces the variant described by spec as a temporary file. The
// caller must Close the returned Rendition.
func (s *Source) Render(spec SizeSpec) (*Rendition, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.Normalized()

	if spec.PassThrough() {
		b := s.img.Bounds()
		return s.write(s.data, b.Dx(), b.Dy())
	}

	var out *image.NRGBA
	switch spec.Mode {
	case FixedWidth:
		out = imaging.Resize(s.img, spec.Width, 0, imaging.Lanczos)
	case Adaptive:
		out = imaging.Fill(s.img, spec.Width, spec.Height, imaging.Center, imaging.Lanczos)
	case Crop:
		bounds := s.img.Bounds()
		region := image.Rect(spec.Crop.X, spec.Crop.Y, spec.Crop.X+spec.Crop.Width, spec.Crop.Y+spec.Crop.Height).
			Add(bounds.Min).
			Intersect(bounds)
		if region.Empty() {
			return nil, fmt.Errorf("%w: %+v not within %dx%d", ErrCropOutOfBounds, *spec.Crop, bounds.Dx(), bounds.Dy())
		}
		cropped := imaging.Crop(s.img, region)
		out = imaging.Fill(cropped, spec.Width, spec.Height, imaging.Center, imaging.Lanczos)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, spec.Mode)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, s.format, imaging.JPEGQuality(s.t.quality())); err != nil {
		return nil, fmt.Errorf("encode %s rendition: %w", spec.Name, err)
	}

	b := out.Bounds()
	return s.write(buf.Bytes(), b.Dx(), b.Dy())
}

func (s *Source) write(data []byte, width, height int) (*Rendition, error) {
	f, err := os.CreateTemp(s.t.TempDir, "rendition-*."+extension(s.format))
	if err != nil {
		return nil, fmt.Errorf("create rendition file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write rendition file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write rendition file: %w", err)
	}

	return &Rendition{
		Path:        f.Name(),
		ContentType: contentType(s.format),
		Width:       width,
		Height:      height,
	}, nil
}

func (t *Transformer) quality() int {
	if t.JPEGQuality <= 0 || t.JPEGQuality > 100 {
		return DefaultJPEGQuality
	}
	return t.JPEGQuality
}

// Rendition is a rendered variant held in a temporary file.
type Rendition struct {
	Path        string
	ContentType string
	Width       int
	Height      int

	once sync.Once
}

// Close removes the rendition file. It is safe to call more than once.
func (r *Rendition) Close() error {
	var err error
	r.once.Do(func() {
		if rmErr := os.Remove(r.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Debug("Failed to remove rendition file", "path", r.Path, "err", rmErr)
			err = rmErr
		}
	})
	return err
}

func contentType(f imaging.Format) string {
	switch f {
	case imaging.JPEG:
		return "image/jpeg"
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	case imaging.BMP:
		return "image/bmp"
	}
	return "application/octet-stream"
}

func extension(f imaging.Format) string {
	switch f {
	case imaging.JPEG:
		return "jpg"
	case imaging.PNG:
		return "png"
	case imaging.GIF:
		return "gif"
	case imaging.TIFF:
		return "tif"
	case imaging.BMP:
		return "bmp"
	}
	return "bin"
}
