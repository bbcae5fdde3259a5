package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"attache/internal/auth"
	"attache/internal/keys"
)

// statusWriter remembers the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// access is one served request as it appears in the log.
type access struct {
	remote   string
	method   string
	path     string
	route    string
	blob     string
	status   int
	bytes    int64
	duration time.Duration
}

func (a access) attrs() []any {
	out := []any{
		slog.String("remote", a.remote),
		slog.Group("http",
			"method", a.method,
			"path", a.path,
			"route", a.route,
			"status", a.status,
			"bytes", a.bytes,
			"duration_ms", float64(a.duration)/float64(time.Millisecond),
		),
	}
	if a.blob != "" {
		out = append(out, slog.String("blob", a.blob))
	}
	return out
}

// logRequests logs every request once it is served. Requests for public
// files also carry the key of the blob they resolve to.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(sw, r)

		entry := access{
			remote:   r.RemoteAddr,
			method:   r.Method,
			path:     r.URL.Path,
			route:    r.Pattern,
			status:   sw.status,
			bytes:    sw.bytes,
			duration: time.Since(start),
		}
		if rest, ok := strings.CutPrefix(r.URL.Path, filesRoute); ok && s.opts.FilesDir != "" {
			entry.blob = keys.WithPrefix(s.opts.Prefix, rest)
		}

		level := slog.LevelInfo
		switch {
		case sw.status >= 500:
			level = slog.LevelError
		case sw.status >= 400:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "Served request", entry.attrs()...)
	})
}

// RequireAuthentication is middleware that rejects requests the engine does
// not accept with a Basic challenge.
func RequireAuthentication(engine auth.AuthEngine, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorized, err := engine.AuthenticateRequest(r.Context(), r)
			if err != nil {
				slog.Error("Authentication failed", "path", r.URL.Path, "err", err)
			}
			if !authorized || err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer turns a handler panic into a 500 response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			// An aborted handler must keep aborting the response.
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}

			slog.Error("Handler panicked", "method", r.Method, "path", r.URL.Path, "panic", rvr)
			w.WriteHeader(http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}
