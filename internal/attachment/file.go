package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"attache/internal/mimes"
	"attache/internal/storage"
)

const invalidFileMessage = "Invalid file format."

// FileOptions configures a File.
type FileOptions struct {
	// Field is the owner's name field.
	Field string
	// Prefix is prepended to every key, e.g. a public subdirectory.
	Prefix string

	Store    storage.BlobStore
	Detector mimes.Detector // defaults to mimes.Sniffer
	Types    mimes.Table    // defaults to mimes.Files
	Recorder Recorder
	Logger   *slog.Logger
}

// File coordinates a single stored file. The owner's name field holds the
// stored file name.
type File struct {
	base
	detector mimes.Detector
	types    mimes.Table

	name        string
	contentType string
}

// NewFile returns a File for owner.
func NewFile(owner Owner, opts FileOptions) (*File, error) {
	b, err := newBase(owner, opts.Field, opts.Prefix, opts.Store, opts.Recorder, opts.Logger)
	if err != nil {
		return nil, err
	}
	if opts.Detector == nil {
		opts.Detector = mimes.Sniffer{}
	}
	if opts.Types == nil {
		opts.Types = mimes.Files
	}
	return &File{base: b, detector: opts.Detector, types: opts.Types}, nil
}

// Set stages the file at path. It is stored under its base name unless
// SetName overrides it.
func (f *File) Set(path string) {
	f.pending = path
	f.name = filepath.Base(path)
	f.validated = false
	f.state = PendingWrite
}

// SetName overrides the name the staged file is stored under.
func (f *File) SetName(name string) {
	f.name = filepath.Base(name)
}

// Validate checks the staged file's content type. It must run before the
// owner is saved. A rejected file adds one error to the owner and leaves
// the field as it was.
func (f *File) Validate() error {
	if f.state != PendingWrite {
		return nil
	}

	mimeType, err := f.detector.Detect(f.pending)
	if err != nil {
		f.abandon()
		return fmt.Errorf("attachment: %s: %w", f.field, err)
	}

	if !f.types.Allows(mimeType) {
		f.logger.Debug("Rejected upload", "mime", mimeType)
		return f.reject(mimeType, invalidFileMessage)
	}

	f.capture()
	f.contentType = mimes.Normalize(mimeType)
	f.owner.SetName(f.field, f.name)
	f.validated = true
	return nil
}

// Commit stores the validated file once the owner has been saved. The
// previous file is deleted before the new one is put, so a replacement
// under the same name is never removed after the fact.
func (f *File) Commit(ctx context.Context) error {
	if f.state != PendingWrite {
		return nil
	}
	if !f.validated {
		return ErrNotValidated
	}

	if f.hasStored {
		f.deleteBestEffort(ctx, f.key("", f.stored))
	}

	// The owner keeps the new name whatever happens next.
	err := f.put(ctx, f.Key(), f.pending, f.contentType)

	f.state = Committed
	f.pending = ""
	f.validated = false
	f.release()
	return err
}

// Clear deletes the stored file and unsets the name field. Deletion is
// best effort.
func (f *File) Clear(ctx context.Context) {
	if name, ok := f.committedName(); ok {
		f.deleteBestEffort(ctx, f.key("", name))
	}
	f.owner.ClearName(f.field)
	f.pending = ""
	f.validated = false
	f.release()
	f.state = Unset
}

// Key returns the key of the stored file, or of the staged file when none
// is stored yet.
func (f *File) Key() string {
	if name, ok := f.owner.Name(f.field); ok {
		return f.key("", name)
	}
	return f.key("", f.name)
}

// URL returns the stored file's URL, or "" when no file is stored.
func (f *File) URL() string {
	if _, ok := f.owner.Name(f.field); !ok {
		return ""
	}
	return f.store.URL(f.Key())
}

// Contents reads the stored file.
func (f *File) Contents(ctx context.Context) ([]byte, error) {
	if _, ok := f.owner.Name(f.field); !ok {
		return nil, storage.ErrNotFound
	}
	return f.store.Contents(ctx, f.Key())
}

// State returns the field's lifecycle state.
func (f *File) State() State {
	return f.state
}
