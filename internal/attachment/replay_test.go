package attachment_test

import (
	"attache/internal/attachment"
	"attache/internal/journal"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayKeepsReplacementUnderSameName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, err := journal.Open(ctx, journal.Config{Path: filepath.Join(t.TempDir(), "journal.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	store := newRecordingStore(t)
	row := attachment.NewRow("Post", 7, nil)
	f := newFile(t, row, store, j)

	f.Set(writeFile(t, "report.pdf", []byte("%PDF-1.4\nold\n")))
	require.NoError(t, f.Validate())
	require.NoError(t, f.Commit(ctx))

	// Removing the old blob fails, storing the replacement does not.
	store.failDel["Post/7/document/report.pdf"] = errBackend
	f.Set(writeFile(t, "report.pdf", pdfBytes))
	require.NoError(t, f.Validate())
	require.NoError(t, f.Commit(ctx))

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending, "the successful put supersedes the failed delete")

	delete(store.failDel, "Post/7/document/report.pdf")
	res, err := j.Replay(ctx, store)
	require.NoError(t, err)
	require.Equal(t, journal.Result{}, res)

	got, err := f.Contents(ctx)
	require.NoError(t, err)
	require.Equal(t, pdfBytes, got)
}
