package server_test

import (
	"attache/internal/auth"
	"attache/internal/metrics"
	"attache/internal/server"
	"attache/internal/storage"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, engine auth.AuthEngine) (*storage.LocalDiskStore, *httptest.Server) {
	t.Helper()

	store, err := storage.NewLocalDiskStore(storage.LocalConfig{
		Root:         t.TempDir(),
		PublicSubdir: "public",
		PublicURL:    "http://files.test/files",
	})
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	srv, err := server.New(server.Options{
		Store:    storage.NewInstrumented(store, reg),
		Prefix:   "public/",
		FilesDir: store.PublicDir(),
		Auth:     engine,
		Registry: reg,
	})
	require.NoError(t, err, "New error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return store, httpSrv
}

func put(t *testing.T, store storage.BlobStore, key string, data []byte) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(src, data, 0o644))
	require.NoError(t, store.Put(context.Background(), key, src, ""))
}

func get(t *testing.T, url string, opts ...func(*http.Request)) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	for _, opt := range opts {
		opt(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServesPublicFiles(t *testing.T) {
	t.Parallel()

	store, httpSrv := newTestServer(t, nil)
	put(t, store, "public/Post/7/doc/report.pdf", []byte("%PDF-1.4 report"))
	put(t, store, "private/secret.txt", []byte("hidden"))

	resp, body := get(t, httpSrv.URL+"/files/Post/7/doc/report.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "%PDF-1.4 report", body)

	resp, _ = get(t, httpSrv.URL+"/files/Post/7/doc/")
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "directories are not listed")

	resp, _ = get(t, httpSrv.URL+"/files/../private/secret.txt")
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestIndexListsBlobs(t *testing.T) {
	t.Parallel()

	store, httpSrv := newTestServer(t, nil)
	put(t, store, "public/Post/7/cover/thumb.png", []byte("png"))

	resp, body := get(t, httpSrv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "public/Post/7/cover/thumb.png")
	require.Contains(t, body, `href="http://files.test/files/Post/7/cover/thumb.png"`)
}

func TestIndexRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, auth.NewBasicAuthEngine("admin", "secret"))

	resp, _ := get(t, httpSrv.URL+"/")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	resp, _ = get(t, httpSrv.URL+"/", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := get(t, httpSrv.URL+"/", func(r *http.Request) { r.SetBasicAuth("admin", "secret") })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "No attachments stored.")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, nil)

	// Listing goes through the instrumented store.
	resp, _ := get(t, httpSrv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, httpSrv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `attache_store_operations_total{driver="local",op="list",result="ok"} 1`)
}

func TestRequestLogNamesRouteAndBlob(t *testing.T) {
	t.Parallel()

	store, err := storage.NewLocalDiskStore(storage.LocalConfig{Root: t.TempDir(), PublicSubdir: "public"})
	require.NoError(t, err)
	put(t, store, "public/Post/7/doc/report.pdf", []byte("%PDF-1.4 report"))

	var buf bytes.Buffer
	srv, err := server.New(server.Options{
		Store:    store,
		Prefix:   "public/",
		FilesDir: store.PublicDir(),
		Logger:   slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/Post/7/doc/report.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entry struct {
		Level string `json:"level"`
		Blob  string `json:"blob"`
		HTTP  struct {
			Route  string `json:"route"`
			Status int    `json:"status"`
			Bytes  int64  `json:"bytes"`
		} `json:"http"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "INFO", entry.Level)
	require.Equal(t, "public/Post/7/doc/report.pdf", entry.Blob)
	require.Equal(t, "GET /files/", entry.HTTP.Route)
	require.Equal(t, http.StatusOK, entry.HTTP.Status)
	require.Equal(t, int64(len("%PDF-1.4 report")), entry.HTTP.Bytes)

	buf.Reset()
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "GET /healthz", entry.HTTP.Route)
	require.Equal(t, http.StatusNoContent, entry.HTTP.Status)
}

func TestRecovererReturns500(t *testing.T) {
	t.Parallel()

	h := server.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Options{})
	require.Error(t, err)
}
