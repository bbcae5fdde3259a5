// Package journal persists storage operations that failed after a record
// was committed so they can be replayed against the BlobStore later.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"attache/internal/metrics"
	"attache/internal/storage"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
)

//go:embed migrations
var migrationsFS embed.FS

// Action is the storage operation an entry retries.
type Action string

const (
	ActionPut    Action = "put"
	ActionDelete Action = "delete"
)

// Config configures a Journal.
type Config struct {
	// Path is the SQLite database file.
	Path string `toml:"path" yaml:"path"`
	// SpoolDir holds copies of payloads awaiting a retried put. Defaults
	// to a "spool" directory next to Path.
	SpoolDir string `toml:"spool_dir" yaml:"spool_dir"`

	Registerer prometheus.Registerer `toml:"-" yaml:"-"`
}

// Entry is one journaled operation.
type Entry struct {
	ID          string
	Action      Action
	Key         string
	SpoolPath   string
	ContentType string
	Cause       string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}

// Result summarizes a Replay.
type Result struct {
	Replayed int
	Failed   int
}

// Journal is a durable retry queue backed by SQLite.
type Journal struct {
	cfg     Config
	db      *sql.DB
	entries *prometheus.CounterVec
}

// initSchema applies every embedded migration in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// Open opens (creating if needed) the journal database and spool directory.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal path must not be empty")
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = filepath.Join(filepath.Dir(cfg.Path), "spool")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{cfg: cfg, db: db, entries: metrics.JournalEntries(cfg.Registerer)}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordPut journals a failed put. The payload is copied into the spool
// directory because sourcePath is usually a temporary file.
func (j *Journal) RecordPut(ctx context.Context, key, sourcePath, contentType string, cause error) error {
	id := uuid.NewString()
	spoolPath := filepath.Join(j.cfg.SpoolDir, id)

	if err := storage.CopyFile(sourcePath, spoolPath); err != nil {
		return fmt.Errorf("spool payload for %s: %w", key, err)
	}

	if err := j.insert(ctx, id, ActionPut, key, spoolPath, contentType, cause); err != nil {
		_ = os.Remove(spoolPath)
		return err
	}
	return nil
}

// RecordDelete journals a failed delete.
func (j *Journal) RecordDelete(ctx context.Context, key string, cause error) error {
	return j.insert(ctx, uuid.NewString(), ActionDelete, key, "", "", cause)
}

func (j *Journal) insert(ctx context.Context, id string, action Action, key, spoolPath, contentType string, cause error) error {
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries(id, action, key, spool_path, content_type, cause, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		id, string(action), key, nullString(spoolPath), nullString(contentType), causeText, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal %s %s: %w", action, key, err)
	}

	j.entries.WithLabelValues(string(action), "recorded").Inc()
	slog.Warn("Journaled failed storage operation", "action", action, "key", key, "cause", causeText)
	return nil
}

// Supersede drops every pending entry for key along with its spooled
// payload. It runs after an operation on key succeeded directly, so that a
// later Replay cannot undo it with an older put or delete.
func (j *Journal) Supersede(ctx context.Context, key string) error {
	stale, err := j.query(ctx, `WHERE key = ?`, key)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	if _, err := j.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("supersede journal entries for %s: %w", key, err)
	}

	for _, e := range stale {
		j.removeSpool(e)
		j.entries.WithLabelValues(string(e.Action), "superseded").Inc()
	}
	slog.Info("Dropped superseded journal entries", "key", key, "count", len(stale))
	return nil
}

// Pending returns every entry in the order it was recorded.
func (j *Journal) Pending(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, "")
}

func (j *Journal) query(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, action, key, spool_path, content_type, cause, attempts, last_error, created_at
		 FROM entries `+where+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			action      string
			spoolPath   sql.NullString
			contentType sql.NullString
			lastError   sql.NullString
		)
		if err := rows.Scan(&e.ID, &action, &e.Key, &spoolPath, &contentType, &e.Cause, &e.Attempts, &lastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Action = Action(action)
		e.SpoolPath = spoolPath.String
		e.ContentType = contentType.String
		e.LastError = lastError.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replay retries every pending entry against store, in order. Successful
// entries are removed along with their spooled payload; failed ones have
// their attempt count bumped and keep the last error.
func (j *Journal) Replay(ctx context.Context, store storage.BlobStore) (Result, error) {
	entries, err := j.Pending(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var opErr error
		switch e.Action {
		case ActionPut:
			opErr = store.Put(ctx, e.Key, e.SpoolPath, e.ContentType)
		case ActionDelete:
			opErr = store.Delete(ctx, e.Key)
		default:
			opErr = fmt.Errorf("unknown journal action %q", e.Action)
		}

		if opErr != nil {
			res.Failed++
			j.entries.WithLabelValues(string(e.Action), "failed").Inc()
			slog.Error("Replay failed", "action", e.Action, "key", e.Key, "attempt", e.Attempts+1, "err", opErr)

			if _, err := j.db.ExecContext(ctx,
				`UPDATE entries SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
				opErr.Error(), e.ID,
			); err != nil {
				return res, fmt.Errorf("update journal entry %s: %w", e.ID, err)
			}
			continue
		}

		if _, err := j.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, e.ID); err != nil {
			return res, fmt.Errorf("remove journal entry %s: %w", e.ID, err)
		}
		j.removeSpool(e)

		res.Replayed++
		j.entries.WithLabelValues(string(e.Action), "replayed").Inc()
		slog.Info("Replayed storage operation", "action", e.Action, "key", e.Key)
	}

	return res, nil
}

func (j *Journal) removeSpool(e Entry) {
	if e.SpoolPath == "" {
		return
	}
	if err := os.Remove(e.SpoolPath); err != nil && !os.IsNotExist(err) {
		slog.Debug("Failed to remove spooled payload", "path", e.SpoolPath, "err", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
