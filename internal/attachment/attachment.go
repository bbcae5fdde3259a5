// Package attachment coordinates the storage of files and images that
// belong to a record.
//
// A coordinator is driven in two phases by the layer that saves records:
// Validate runs before the record's transaction and may reject the upload,
// Commit runs after the transaction has committed and performs the storage
// I/O. Failures during Commit never roll the record back; they are logged
// and handed to a Recorder so they can be retried later.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"attache/internal/keys"
	"attache/internal/storage"
)

// State is the lifecycle state of an attachment field.
type State int

const (
	Unset State = iota
	PendingWrite
	Committed
)

func (s State) String() string {
	switch s {
	case Unset:
		return "unset"
	case PendingWrite:
		return "pending-write"
	case Committed:
		return "committed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrNotValidated is returned by Commit when a pending upload has not
	// passed Validate.
	ErrNotValidated = errors.New("attachment: pending upload was not validated")
	// ErrUnknownSize is returned for a size name the image does not define.
	ErrUnknownSize = errors.New("attachment: unknown size")
	// ErrNoImage is returned by Recrop when no image is stored.
	ErrNoImage = errors.New("attachment: no image stored")
)

// ValidationError reports an upload whose content type is not accepted.
type ValidationError struct {
	Field    string
	MimeType string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attachment: %s: %s (%s)", e.Field, e.Message, e.MimeType)
}

// Recorder receives storage operations that failed after a record was
// committed, for later replay. Supersede is called once an operation on
// key succeeds, so older failures on that key are never replayed over it.
type Recorder interface {
	RecordPut(ctx context.Context, key, sourcePath, contentType string, cause error) error
	RecordDelete(ctx context.Context, key string, cause error) error
	Supersede(ctx context.Context, key string) error
}

// base holds what File and Image share.
type base struct {
	owner    Owner
	field    string
	prefix   string
	store    storage.BlobStore
	recorder Recorder
	logger   *slog.Logger

	state     State
	pending   string
	validated bool

	// stored is the name field as it was before the pending upload first
	// overwrote it. It survives re-staging and is reset by Commit and Clear.
	stored    string
	hasStored bool
	captured  bool
}

func newBase(owner Owner, field, prefix string, store storage.BlobStore, recorder Recorder, logger *slog.Logger) (base, error) {
	if owner == nil {
		return base{}, errors.New("attachment: owner must not be nil")
	}
	if field == "" {
		return base{}, errors.New("attachment: field must not be empty")
	}
	if store == nil {
		return base{}, errors.New("attachment: store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := base{
		owner:    owner,
		field:    field,
		prefix:   prefix,
		store:    store,
		recorder: recorder,
		logger:   logger.With("owner", owner.TypeName(), "id", owner.PrimaryKey(), "field", field),
	}
	b.state = b.settledState()
	return b, nil
}

// settledState is the state implied by the owner's name field alone.
func (b *base) settledState() State {
	if _, ok := b.owner.Name(b.field); ok {
		return Committed
	}
	return Unset
}

func (b *base) key(variant, storedName string) string {
	return keys.WithPrefix(b.prefix, keys.Derive(keys.Identity{
		OwnerType:  b.owner.TypeName(),
		OwnerID:    b.owner.PrimaryKey(),
		Field:      b.field,
		Variant:    variant,
		StoredName: storedName,
	}))
}

// capture remembers the committed name before the first accepted upload
// overwrites it. Later validations keep the first capture.
func (b *base) capture() {
	if b.captured {
		return
	}
	b.stored, b.hasStored = b.owner.Name(b.field)
	b.captured = true
}

// committedName is the name of the blob actually in storage, which differs
// from the name field while an accepted upload is pending.
func (b *base) committedName() (string, bool) {
	if b.captured {
		return b.stored, b.hasStored
	}
	return b.owner.Name(b.field)
}

func (b *base) release() {
	b.stored, b.hasStored, b.captured = "", false, false
}

// abandon drops the pending upload and puts back the committed name when
// an earlier validation had already overwritten it.
func (b *base) abandon() {
	if b.captured {
		if b.hasStored {
			b.owner.SetName(b.field, b.stored)
		} else {
			b.owner.ClearName(b.field)
		}
		b.release()
	}
	b.pending = ""
	b.validated = false
	b.state = b.settledState()
}

// reject records the single validation message on the owner and returns
// the field to its settled state.
func (b *base) reject(mimeType, message string) error {
	b.owner.AddError(b.field, message)
	b.abandon()
	return &ValidationError{Field: b.field, MimeType: mimeType, Message: message}
}

// deleteBestEffort removes key and records any failure instead of
// returning it.
func (b *base) deleteBestEffort(ctx context.Context, key string) {
	err := b.store.Delete(ctx, key)
	if err == nil {
		b.supersede(ctx, key)
		return
	}

	b.logger.Error("Failed to delete stored blob", "key", key, "err", err)
	if b.recorder != nil {
		if recErr := b.recorder.RecordDelete(ctx, key, err); recErr != nil {
			b.logger.Error("Failed to journal delete", "key", key, "err", recErr)
		}
	}
}

// put stores sourcePath under key, recording the failure when it fails.
func (b *base) put(ctx context.Context, key, sourcePath, contentType string) error {
	err := b.store.Put(ctx, key, sourcePath, contentType)
	if err == nil {
		b.supersede(ctx, key)
		return nil
	}

	b.logger.Error("Failed to store blob", "key", key, "err", err)
	if b.recorder != nil {
		if recErr := b.recorder.RecordPut(ctx, key, sourcePath, contentType, err); recErr != nil {
			b.logger.Error("Failed to journal put", "key", key, "err", recErr)
		}
	}
	return err
}

// supersede tells the recorder that key now holds the outcome of a
// successful operation.
func (b *base) supersede(ctx context.Context, key string) {
	if b.recorder == nil {
		return
	}
	if err := b.recorder.Supersede(ctx, key); err != nil {
		b.logger.Error("Failed to drop superseded journal entries", "key", key, "err", err)
	}
}
