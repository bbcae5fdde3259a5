// Package storage defines the key-addressed blob storage contract shared by
// every backend, along with the local-disk and S3-compatible variants.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Driver identifies a concrete BlobStore implementation.
type Driver string

const (
	// DriverLocal stores blobs below a directory on the local filesystem.
	DriverLocal Driver = "local"
	// DriverS3 stores blobs in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
)

// ErrNotFound is returned by Contents when no blob is stored under the key.
// It is never conflated with an empty blob.
var ErrNotFound = errors.New("storage: not found")

// BlobStore persists, retrieves and deletes byte blobs addressed by key.
// Implementations must be safe for concurrent use; concurrent writes to the
// same key are last-writer-wins.
type BlobStore interface {
	// Put copies the file at sourcePath into the store under key,
	// replacing any existing blob. contentType may be empty, in which case
	// backends that need one detect it.
	Put(ctx context.Context, key string, sourcePath string, contentType string) error

	// URL returns the public URL of the blob stored under key. It never
	// performs I/O. An empty string means the blob is not remotely
	// fetchable.
	URL(key string) string

	// Contents returns the bytes stored under key, or ErrNotFound.
	Contents(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob stored under key. Deleting a key that holds
	// nothing succeeds.
	Delete(ctx context.Context, key string) error

	// Driver reports which backend this is.
	Driver() Driver
}

// Info describes a stored blob.
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Lister is implemented by stores that can enumerate their blobs.
type Lister interface {
	// List returns every blob whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
}

// ErrListUnsupported is returned when listing a store that cannot
// enumerate its contents.
var ErrListUnsupported = errors.New("storage: listing not supported")

// Error is a backend failure annotated with the operation and key.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
