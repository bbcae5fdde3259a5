// Package server exposes stored attachments over HTTP, including the public
// directory of the local driver.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"attache/internal/auth"
	"attache/internal/metrics"
	"attache/internal/storage"
	"attache/internal/ui"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Server.
type Options struct {
	// Store is listed on the browse page.
	Store storage.BlobStore

	// Prefix limits the browse page to keys below it.
	Prefix string

	// FilesDir is served under /files/. Empty disables file serving.
	FilesDir string

	// Auth guards the browse page. Nil allows every request.
	Auth auth.AuthEngine

	// Registry is exposed on /metrics when set.
	Registry *prometheus.Registry

	// Logger receives one entry per request. Defaults to slog.Default().
	Logger *slog.Logger
}

// filesRoute is where FilesDir is mounted.
const filesRoute = "/files/"

type Server struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server requires a blob store")
	}
	if opts.Auth == nil {
		opts.Auth = auth.AllowAll{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger}, nil
}

// Handler returns the HTTP router wrapped in the logging and recovery
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", RequireAuthentication(s.opts.Auth, "attache")(http.HandlerFunc(s.Index)))

	if s.opts.FilesDir != "" {
		files := http.FileServer(noDirectoryListing{http.Dir(s.opts.FilesDir)})
		mux.Handle("GET "+filesRoute, http.StripPrefix(filesRoute, files))
	}

	if s.opts.Registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.opts.Registry))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return Recoverer(s.logRequests(mux))
}

// Index renders the blobs stored under the configured prefix.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lister, ok := s.opts.Store.(storage.Lister)
	if !ok {
		http.Error(w, storage.ErrListUnsupported.Error(), http.StatusNotImplemented)
		return
	}

	infos, err := lister.List(ctx, s.opts.Prefix)
	if errors.Is(err, storage.ErrListUnsupported) {
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	}
	if err != nil {
		slog.Error("Failed to list blobs", "prefix", s.opts.Prefix, "err", err)
		http.Error(w, fmt.Sprintf("failed to list blobs: %v", err), http.StatusInternalServerError)
		return
	}

	blobs := make([]ui.Blob, 0, len(infos))
	for _, info := range infos {
		blobs = append(blobs, ui.Blob{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
			URL:          s.opts.Store.URL(info.Key),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.IndexPage(s.opts.Prefix, blobs).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render index page: %v", err), http.StatusInternalServerError)
		return
	}
}

// noDirectoryListing hides directory indexes so only exact blob paths are
// fetchable.
type noDirectoryListing struct {
	fs http.FileSystem
}

func (n noDirectoryListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
