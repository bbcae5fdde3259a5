package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a local-driver config rooted in a temp dir.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "blobs")
	path := filepath.Join(dir, "attache.toml")
	content := `
log_level = "error"
prefix = "public"

[storage]
driver = "local"

[storage.local]
root = "` + filepath.ToSlash(root) + `"
public_subdir = "public"
public_url = "http://files.test/files"

[journal]
path = "` + filepath.ToSlash(filepath.Join(dir, "journal.sqlite")) + `"

[[sizes]]
name = "original"

[[sizes]]
name = "thumb"
width = 10
height = 10
placeholder = "https://placehold.co/10x10"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var pdf = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func TestFileCommands(t *testing.T) {
	cfg, root := writeTestConfig(t)
	src := writeTemp(t, "report.pdf", pdf)

	out, err := run(t, "--config", cfg, "put-file", "Post", "7", "doc", src)
	require.NoError(t, err)
	require.Equal(t, "public/Post/7/doc/report.pdf\thttp://files.test/files/Post/7/doc/report.pdf\n", out)
	require.FileExists(t, filepath.Join(root, "public", "Post", "7", "doc", "report.pdf"))

	out, err = run(t, "--config", cfg, "cat", "Post", "7", "doc", "--name", "report.pdf")
	require.NoError(t, err)
	require.Equal(t, string(pdf), out)

	out, err = run(t, "--config", cfg, "url", "Post", "7", "doc", "--name", "report.pdf")
	require.NoError(t, err)
	require.Equal(t, "http://files.test/files/Post/7/doc/report.pdf\n", out)

	// Replacing under a new name removes the old blob.
	out, err = run(t, "--config", cfg, "put-file", "Post", "7", "doc", src, "--name", "final.pdf", "--previous", "report.pdf")
	require.NoError(t, err)
	require.Contains(t, out, "public/Post/7/doc/final.pdf")
	require.NoFileExists(t, filepath.Join(root, "public", "Post", "7", "doc", "report.pdf"))

	out, err = run(t, "--config", cfg, "clear", "Post", "7", "doc", "--name", "final.pdf")
	require.NoError(t, err)
	require.Equal(t, "public/Post/7/doc/final.pdf\n", out)
	require.NoFileExists(t, filepath.Join(root, "public", "Post", "7", "doc", "final.pdf"))
}

func TestPutFileRejectsDisallowedType(t *testing.T) {
	cfg, _ := writeTestConfig(t)

	_, err := run(t, "--config", cfg, "put-file", "Post", "7", "doc", writeTemp(t, "notes.txt", []byte("plain text")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid file format.")
}

func TestImageCommands(t *testing.T) {
	cfg, _ := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "url", "User", "1", "avatar", "--size", "thumb")
	require.NoError(t, err)
	require.Equal(t, "https://placehold.co/10x10\n", out, "placeholder before upload")

	out, err = run(t, "--config", cfg, "put-image", "User", "1", "avatar", writeTemp(t, "me.png", pngBytes(t, 40, 20)))
	require.NoError(t, err)
	require.Equal(t, strings.Join([]string{
		"original\thttp://files.test/files/User/1/avatar/~original.png",
		"thumb\thttp://files.test/files/User/1/avatar/~thumb.png",
		"",
	}, "\n"), out)

	out, err = run(t, "--config", cfg, "cat", "User", "1", "avatar", "--name", "png", "--size", "thumb")
	require.NoError(t, err)
	decoded, err := png.DecodeConfig(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 10, decoded.Width)
	require.Equal(t, 10, decoded.Height)

	_, err = run(t, "--config", cfg, "recrop", "User", "1", "avatar", "--name", "png", "--to", "thumb", "--width", "20", "--height", "20")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "clear", "User", "1", "avatar", "--name", "png", "--image")
	require.NoError(t, err)
	require.Equal(t, "public/User/1/avatar/~original.png\npublic/User/1/avatar/~thumb.png\n", out)
}

func TestReplayWithEmptyJournal(t *testing.T) {
	cfg, _ := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "replay")
	require.NoError(t, err)
	require.Equal(t, "replayed 0, failed 0\n", out)
}

func TestOwnerArgsValidation(t *testing.T) {
	cfg, _ := writeTestConfig(t)

	_, err := run(t, "--config", cfg, "url", "Post", "seven", "doc")
	require.ErrorContains(t, err, "invalid id")

	_, err = run(t, "--config", cfg, "cat", "Post", "7", "doc")
	require.ErrorContains(t, err, "--name is required")
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want log.Level
		err  bool
	}{
		{raw: "", want: log.InfoLevel},
		{raw: "debug", want: log.DebugLevel},
		{raw: "WARNING", want: log.WarnLevel},
		{raw: "Error", want: log.ErrorLevel},
		{raw: "loud", err: true},
	}

	for _, tt := range tests {
		level, err := parseLogLevel(tt.raw)
		if tt.err {
			require.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, level, tt.raw)
	}
}
