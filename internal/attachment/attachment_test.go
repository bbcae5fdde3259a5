package attachment_test

import (
	"attache/internal/storage"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingStore wraps a real store and logs every mutating call.
type recordingStore struct {
	storage.BlobStore

	mu      sync.Mutex
	calls   []string
	failPut map[string]error
	failDel map[string]error
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	local, err := storage.NewLocalDiskStore(storage.LocalConfig{
		Root:      t.TempDir(),
		PublicURL: "http://files.test",
	})
	require.NoError(t, err)
	return &recordingStore{
		BlobStore: local,
		failPut:   map[string]error{},
		failDel:   map[string]error{},
	}
}

func (s *recordingStore) Put(ctx context.Context, key, sourcePath, contentType string) error {
	s.mu.Lock()
	s.calls = append(s.calls, "put "+key)
	err := s.failPut[key]
	s.mu.Unlock()
	if err != nil {
		return &storage.Error{Op: "put", Key: key, Err: err}
	}
	return s.BlobStore.Put(ctx, key, sourcePath, contentType)
}

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.calls = append(s.calls, "delete "+key)
	err := s.failDel[key]
	s.mu.Unlock()
	if err != nil {
		return &storage.Error{Op: "delete", Key: key, Err: err}
	}
	return s.BlobStore.Delete(ctx, key)
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

type recordedOp struct {
	Op    string
	Key   string
	Cause error
}

type memoryRecorder struct {
	mu         sync.Mutex
	ops        []recordedOp
	superseded []string
}

func (r *memoryRecorder) RecordPut(_ context.Context, key, _, _ string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{Op: "put", Key: key, Cause: cause})
	return nil
}

func (r *memoryRecorder) RecordDelete(_ context.Context, key string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{Op: "delete", Key: key, Cause: cause})
	return nil
}

func (r *memoryRecorder) Supersede(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.superseded = append(r.superseded, key)
	return nil
}

func (r *memoryRecorder) Superseded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.superseded...)
}

func (r *memoryRecorder) Ops() []recordedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedOp(nil), r.ops...)
}

var errBackend = errors.New("backend unavailable")

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writePNG(t *testing.T, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 3), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return writeFile(t, name, buf.Bytes())
}

// pdfBytes is enough of a PDF for content sniffing.
var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
