// Package mimes detects the media type of uploaded content and maps the
// accepted types to canonical file extensions.
package mimes

import (
	"fmt"
	"mime"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Detector reports the media type of the file at path.
type Detector interface {
	Detect(path string) (string, error)
}

// Sniffer is a Detector that inspects file contents rather than trusting
// the file name.
type Sniffer struct{}

// Detect returns the bare, lower-cased media type of the file at path.
func (Sniffer) Detect(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type of %s: %w", path, err)
	}
	return Normalize(mt.String()), nil
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(path string) (string, error)

func (f DetectorFunc) Detect(path string) (string, error) { return f(path) }

// Normalize strips parameters from a media type and lower-cases it.
func Normalize(mimeType string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Table maps accepted media types to the extension files of that type are
// stored with.
type Table map[string]string

var (
	// Images are the media types accepted for image fields.
	Images = Table{
		"image/jpeg": "jpg",
		"image/gif":  "gif",
		"image/png":  "png",
	}

	// Files are the media types accepted for plain file fields.
	Files = Table{
		"image/jpeg":        "jpg",
		"application/zip":   "zip",
		"audio/mpeg":        "mp3",
		"application/pdf":   "pdf",
		"application/x-pdf": "pdf",
	}
)

// Extension returns the canonical extension for mimeType and whether the
// type is accepted at all.
func (t Table) Extension(mimeType string) (string, bool) {
	ext, ok := t[Normalize(mimeType)]
	return ext, ok
}

// Allows reports whether mimeType is accepted.
func (t Table) Allows(mimeType string) bool {
	_, ok := t.Extension(mimeType)
	return ok
}

// Types returns the accepted media types in sorted order.
func (t Table) Types() []string {
	types := make([]string, 0, len(t))
	for k := range t {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// ContentType returns the first media type (in sorted order) mapped to
// ext, or "application/octet-stream".
func (t Table) ContentType(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, mt := range t.Types() {
		if t[mt] == ext {
			return mt
		}
	}
	return "application/octet-stream"
}
