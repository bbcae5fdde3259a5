package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"attache/internal/keys"
)

const (
	// DefaultDirMode is applied to directories created by LocalDiskStore.
	DefaultDirMode os.FileMode = 0o775

	fileMode os.FileMode = 0o644
)

// LocalConfig configures a LocalDiskStore.
type LocalConfig struct {
	// Root is the directory all blobs are stored under.
	Root string `toml:"root" yaml:"root"`

	// DirMode is the permission used for directories created on Put.
	DirMode os.FileMode `toml:"dir_mode" yaml:"dir_mode"`

	// PublicSubdir is the subdirectory of Root that is served publicly.
	// Only keys below it have a URL. Empty means all of Root is public.
	PublicSubdir string `toml:"public_subdir" yaml:"public_subdir"`

	// PublicURL is the base URL Root/PublicSubdir is served from.
	PublicURL string `toml:"public_url" yaml:"public_url"`
}

// LocalDiskStore is a BlobStore that keeps each blob as a file at
// Root/key on the local filesystem.
type LocalDiskStore struct {
	cfg LocalConfig
}

// NewLocalDiskStore creates a LocalDiskStore, creating Root if needed.
func NewLocalDiskStore(cfg LocalConfig) (*LocalDiskStore, error) {
	if cfg.Root == "" {
		return nil, errors.New("local storage root must not be empty")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = DefaultDirMode
	}
	cfg.PublicSubdir = strings.Trim(filepath.ToSlash(cfg.PublicSubdir), "/")
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	cfg.Root = root

	if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &LocalDiskStore{cfg: cfg}, nil
}

// Root returns the absolute storage root.
func (s *LocalDiskStore) Root() string {
	return s.cfg.Root
}

// PublicDir returns the directory whose contents are remotely fetchable.
func (s *LocalDiskStore) PublicDir() string {
	return filepath.Join(s.cfg.Root, filepath.FromSlash(s.cfg.PublicSubdir))
}

func (s *LocalDiskStore) Driver() Driver { return DriverLocal }

// ObjectPath computes the full filesystem path for key. Keys are cleaned of
// traversal sequences first and may never resolve outside the root.
func (s *LocalDiskStore) ObjectPath(key string) (string, error) {
	clean := path.Clean("/" + keys.StripTraversal(filepath.ToSlash(key)))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid key %q", key)
	}

	full := filepath.Join(s.cfg.Root, filepath.FromSlash(clean))
	if full != s.cfg.Root && !strings.HasPrefix(full, s.cfg.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return full, nil
}

func (s *LocalDiskStore) Put(ctx context.Context, key string, sourcePath string, contentType string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	objPath, err := s.ObjectPath(key)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(objPath), s.cfg.DirMode); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	if err := ReplaceFile(sourcePath, objPath, fileMode); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	slog.Debug("Stored blob", "driver", DriverLocal, "key", key, "path", objPath)
	return nil
}

// URL maps key into the public URL space. Keys outside PublicSubdir are not
// served and yield "".
func (s *LocalDiskStore) URL(key string) string {
	clean := strings.TrimPrefix(path.Clean("/"+keys.StripTraversal(filepath.ToSlash(key))), "/")

	rel := clean
	if s.cfg.PublicSubdir != "" {
		prefix := s.cfg.PublicSubdir + "/"
		if !strings.HasPrefix(clean, prefix) {
			return ""
		}
		rel = strings.TrimPrefix(clean, prefix)
	}

	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.cfg.PublicURL + "/" + strings.Join(segments, "/")
}

func (s *LocalDiskStore) Contents(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}

	objPath, err := s.ObjectPath(key)
	if err != nil {
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}

	data, err := os.ReadFile(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}
	return data, nil
}

func (s *LocalDiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}

	objPath, err := s.ObjectPath(key)
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}

	if err := os.Remove(objPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &Error{Op: "delete", Key: key, Err: err}
	}

	s.pruneEmptyDirs(filepath.Dir(objPath))
	slog.Debug("Deleted blob", "driver", DriverLocal, "key", key)
	return nil
}

// List walks the storage root and returns the blobs whose key starts with
// prefix. Files still being staged by Put are skipped.
func (s *LocalDiskStore) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(s.cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), stagingPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.cfg.Root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, Info{Key: key, Size: fi.Size(), LastModified: fi.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "list", Key: prefix, Err: err}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// pruneEmptyDirs removes now-empty directories from dir up to (but not
// including) the public directory or the root. Errors stop the walk
// silently; a leftover empty directory is harmless.
func (s *LocalDiskStore) pruneEmptyDirs(dir string) {
	public := s.PublicDir()
	for dir != public && strings.HasPrefix(dir, s.cfg.Root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
