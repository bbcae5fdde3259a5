package rendition

import (
	"errors"
	"fmt"
)

// Mode selects how a source image is fitted to a size.
type Mode string

const (
	// FixedWidth scales to the configured width and derives the height
	// from the source aspect ratio.
	FixedWidth Mode = "fixed-width"
	// Adaptive scales and center-crops to exactly width x height.
	Adaptive Mode = "adaptive"
	// Crop cuts out a region first and then fits it like Adaptive.
	Crop Mode = "crop"
)

var (
	ErrUnsupportedMode = errors.New("rendition: unsupported mode")
	ErrInvalidSpec     = errors.New("rendition: invalid size spec")
	ErrDecode          = errors.New("rendition: cannot decode source image")
	ErrCropOutOfBounds = errors.New("rendition: crop region outside image")
)

// Region is a rectangle in source pixel coordinates.
type Region struct {
	X      int `toml:"x" yaml:"x"`
	Y      int `toml:"y" yaml:"y"`
	Width  int `toml:"width" yaml:"width"`
	Height int `toml:"height" yaml:"height"`
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// SizeSpec describes one named variant of an image.
type SizeSpec struct {
	Name   string  `toml:"name" yaml:"name"`
	Width  int     `toml:"width" yaml:"width"`
	Height int     `toml:"height" yaml:"height"`
	Mode   Mode    `toml:"mode" yaml:"mode"`
	Crop   *Region `toml:"crop" yaml:"crop"`

	// Placeholder is the URL shown while no image is stored. Use
	// PlaceholderURL to derive one from the size.
	Placeholder string `toml:"placeholder" yaml:"placeholder"`
}

// PassThrough reports whether the variant stores the original unmodified.
func (s SizeSpec) PassThrough() bool {
	return s.Width == 0 && s.Height == 0
}

// Normalized returns a copy with the default mode filled in.
func (s SizeSpec) Normalized() SizeSpec {
	if s.Mode == "" && !s.PassThrough() {
		if s.Height == 0 {
			s.Mode = FixedWidth
		} else {
			s.Mode = Adaptive
		}
	}
	return s
}

// Validate checks that the spec can be rendered.
func (s SizeSpec) Validate() error {
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("%w: size %q has negative dimensions", ErrInvalidSpec, s.Name)
	}
	if s.PassThrough() {
		return nil
	}

	s = s.Normalized()
	switch s.Mode {
	case FixedWidth:
		if s.Width == 0 {
			return fmt.Errorf("%w: size %q needs a width for %s", ErrInvalidSpec, s.Name, s.Mode)
		}
	case Adaptive:
		if s.Width == 0 || s.Height == 0 {
			return fmt.Errorf("%w: size %q needs width and height for %s", ErrInvalidSpec, s.Name, s.Mode)
		}
	case Crop:
		if s.Width == 0 || s.Height == 0 {
			return fmt.Errorf("%w: size %q needs width and height for %s", ErrInvalidSpec, s.Name, s.Mode)
		}
		if s.Crop == nil || s.Crop.Empty() {
			return fmt.Errorf("%w: size %q needs a crop region", ErrInvalidSpec, s.Name)
		}
	default:
		return fmt.Errorf("%w: %q (size %q)", ErrUnsupportedMode, s.Mode, s.Name)
	}
	return nil
}

// PlaceholderURL returns a placeholder image URL of the given dimensions.
// A zero dimension falls back to the other one.
func PlaceholderURL(width, height int) string {
	if width == 0 {
		width = height
	}
	if height == 0 {
		height = width
	}
	return fmt.Sprintf("https://placehold.co/%dx%d", width, height)
}
