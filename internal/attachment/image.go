package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"attache/internal/mimes"
	"attache/internal/rendition"
	"attache/internal/storage"
)

const invalidImageMessage = "Invalid image format."

// Transformer opens source images for rendering.
type Transformer interface {
	Open(path string) (*rendition.Source, error)
}

// ImageOptions configures an Image.
type ImageOptions struct {
	Field  string
	Prefix string
	// Sizes are rendered and stored in order.
	Sizes []rendition.SizeSpec

	Store       storage.BlobStore
	Detector    mimes.Detector // defaults to mimes.Sniffer
	Types       mimes.Table    // defaults to mimes.Images
	Transformer Transformer    // defaults to rendition.Default
	Recorder    Recorder
	Logger      *slog.Logger
}

// Image coordinates the size variants of one image. The owner's name field
// holds the canonical extension of the stored image.
type Image struct {
	base
	detector    mimes.Detector
	types       mimes.Table
	transformer Transformer
	sizes       []rendition.SizeSpec
}

// NewImage returns an Image for owner. Every size must be valid and size
// names must be unique.
func NewImage(owner Owner, opts ImageOptions) (*Image, error) {
	b, err := newBase(owner, opts.Field, opts.Prefix, opts.Store, opts.Recorder, opts.Logger)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(opts.Sizes))
	for _, size := range opts.Sizes {
		if size.Name == "" {
			return nil, fmt.Errorf("%w: size without a name", rendition.ErrInvalidSpec)
		}
		if seen[size.Name] {
			return nil, fmt.Errorf("%w: duplicate size %q", rendition.ErrInvalidSpec, size.Name)
		}
		seen[size.Name] = true

		if err := size.Validate(); err != nil {
			return nil, err
		}
	}

	if opts.Detector == nil {
		opts.Detector = mimes.Sniffer{}
	}
	if opts.Types == nil {
		opts.Types = mimes.Images
	}
	if opts.Transformer == nil {
		opts.Transformer = rendition.Default
	}

	return &Image{
		base:        b,
		detector:    opts.Detector,
		types:       opts.Types,
		transformer: opts.Transformer,
		sizes:       append([]rendition.SizeSpec(nil), opts.Sizes...),
	}, nil
}

// Set stages the image at path.
func (im *Image) Set(path string) {
	im.pending = path
	im.validated = false
	im.state = PendingWrite
}

// Validate checks the staged image's content type and, when accepted,
// writes its canonical extension to the name field.
func (im *Image) Validate() error {
	if im.state != PendingWrite {
		return nil
	}

	mimeType, err := im.detector.Detect(im.pending)
	if err != nil {
		im.abandon()
		return fmt.Errorf("attachment: %s: %w", im.field, err)
	}

	ext, ok := im.types.Extension(mimeType)
	if !ok {
		im.logger.Debug("Rejected upload", "mime", mimeType)
		return im.reject(mimeType, invalidImageMessage)
	}

	im.capture()
	im.owner.SetName(im.field, ext)
	im.validated = true
	return nil
}

// Commit deletes the previous variants and then renders and stores every
// size from the staged image. Sizes are processed one at a time. A storage
// failure on one size does not stop the others; a render failure stops
// the remaining sizes.
func (im *Image) Commit(ctx context.Context) error {
	if im.state != PendingWrite {
		return nil
	}
	if !im.validated {
		return ErrNotValidated
	}

	if im.hasStored {
		for _, key := range im.keysFor(im.stored) {
			im.deleteBestEffort(ctx, key)
		}
	}

	err := im.storeAll(ctx, im.pending)

	im.state = Committed
	im.pending = ""
	im.validated = false
	im.release()
	return err
}

func (im *Image) storeAll(ctx context.Context, sourcePath string) error {
	src, err := im.transformer.Open(sourcePath)
	if err != nil {
		im.logger.Error("Failed to open image", "err", err)
		return err
	}

	ext, _ := im.owner.Name(im.field)

	var errs []error
	for _, size := range im.sizes {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		r, err := src.Render(size)
		if err != nil {
			im.logger.Error("Failed to render image", "size", size.Name, "err", err)
			return errors.Join(append(errs, err)...)
		}

		if err := im.put(ctx, im.key(size.Name, ext), r.Path, r.ContentType); err != nil {
			errs = append(errs, err)
		}
		_ = r.Close()
	}
	return errors.Join(errs...)
}

// Clear deletes every variant and unsets the name field. Deletion is best
// effort.
func (im *Image) Clear(ctx context.Context) {
	if ext, ok := im.committedName(); ok {
		for _, key := range im.keysFor(ext) {
			im.deleteBestEffort(ctx, key)
		}
	}
	im.owner.ClearName(im.field)
	im.pending = ""
	im.validated = false
	im.release()
	im.state = Unset
}

// Keys returns the key of every variant, or nil when no image is stored.
func (im *Image) Keys() []string {
	ext, ok := im.owner.Name(im.field)
	if !ok {
		return nil
	}
	return im.keysFor(ext)
}

func (im *Image) keysFor(ext string) []string {
	out := make([]string, 0, len(im.sizes))
	for _, size := range im.sizes {
		out = append(out, im.key(size.Name, ext))
	}
	return out
}

// Key returns the key of the named variant.
func (im *Image) Key(size string) (string, error) {
	if _, ok := im.size(size); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}
	ext, _ := im.owner.Name(im.field)
	return im.key(size, ext), nil
}

// URL returns the URL of the named variant. Without a stored image the
// size's placeholder is returned when it has one.
func (im *Image) URL(size string) (string, error) {
	spec, ok := im.size(size)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}

	ext, stored := im.owner.Name(im.field)
	if !stored && spec.Placeholder != "" {
		return spec.Placeholder, nil
	}
	return im.store.URL(im.key(size, ext)), nil
}

// Contents reads the stored bytes of the named variant.
func (im *Image) Contents(ctx context.Context, size string) ([]byte, error) {
	if _, ok := im.size(size); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}
	ext, ok := im.owner.Name(im.field)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return im.store.Contents(ctx, im.key(size, ext))
}

// Recrop re-derives the toSize variant from the stored fromSize variant,
// cutting region out of it and fitting it to toSize's dimensions.
func (im *Image) Recrop(ctx context.Context, fromSize, toSize string, region rendition.Region) error {
	if _, ok := im.size(fromSize); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSize, fromSize)
	}
	to, ok := im.size(toSize)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSize, toSize)
	}
	ext, ok := im.owner.Name(im.field)
	if !ok {
		return ErrNoImage
	}

	data, err := im.store.Contents(ctx, im.key(fromSize, ext))
	if err != nil {
		return fmt.Errorf("read %s variant: %w", fromSize, err)
	}

	tmp, err := os.CreateTemp("", "recrop-*."+ext)
	if err != nil {
		return fmt.Errorf("create recrop file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write recrop file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write recrop file: %w", err)
	}

	src, err := im.transformer.Open(tmp.Name())
	if err != nil {
		return err
	}

	width, height := cropDimensions(to, region)
	r, err := src.Render(rendition.SizeSpec{
		Name:   to.Name,
		Width:  width,
		Height: height,
		Mode:   rendition.Crop,
		Crop:   &region,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	return im.put(ctx, im.key(to.Name, ext), r.Path, r.ContentType)
}

// cropDimensions fills in whatever the target size leaves open: a
// pass-through size keeps the region's dimensions and a fixed-width size
// keeps the region's aspect ratio.
func cropDimensions(to rendition.SizeSpec, region rendition.Region) (int, int) {
	switch {
	case to.Width == 0 && to.Height == 0:
		return region.Width, region.Height
	case to.Height == 0 && region.Width > 0:
		return to.Width, max(1, to.Width*region.Height/region.Width)
	case to.Width == 0 && region.Height > 0:
		return max(1, to.Height*region.Width/region.Height), to.Height
	}
	return to.Width, to.Height
}

// Sizes returns the configured sizes.
func (im *Image) Sizes() []rendition.SizeSpec {
	return append([]rendition.SizeSpec(nil), im.sizes...)
}

// State returns the field's lifecycle state.
func (im *Image) State() State {
	return im.state
}

func (im *Image) size(name string) (rendition.SizeSpec, bool) {
	for _, s := range im.sizes {
		if s.Name == name {
			return s, true
		}
	}
	return rendition.SizeSpec{}, false
}
