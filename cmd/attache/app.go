package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"attache/internal/attachment"
	"attache/internal/core"
	"attache/internal/journal"
	"attache/internal/metrics"
	"attache/internal/rendition"
	"attache/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

// app holds the components every command wires together.
type app struct {
	cfg         core.Config
	registry    *prometheus.Registry
	store       storage.BlobStore
	local       *storage.LocalDiskStore
	journal     *journal.Journal
	transformer *rendition.Transformer
}

func openApp(ctx context.Context, cfg core.Config) (*app, error) {
	reg := metrics.NewRegistry()

	raw, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &app{
		cfg:         cfg,
		registry:    reg,
		store:       storage.NewInstrumented(raw, reg),
		transformer: &rendition.Transformer{JPEGQuality: cfg.JPEGQuality},
	}

	switch s := raw.(type) {
	case *storage.LocalDiskStore:
		a.local = s
	case *storage.ObjectStore:
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
	}

	if cfg.Journal.Path != "" {
		jcfg := cfg.Journal
		jcfg.Registerer = reg
		j, err := journal.Open(ctx, jcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
	}

	return a, nil
}

func (a *app) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}

func (a *app) recorder() attachment.Recorder {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

func (a *app) file(owner attachment.Owner, field string) (*attachment.File, error) {
	return attachment.NewFile(owner, attachment.FileOptions{
		Field:    field,
		Prefix:   a.cfg.Prefix,
		Store:    a.store,
		Types:    a.cfg.FileTypes,
		Recorder: a.recorder(),
	})
}

func (a *app) image(owner attachment.Owner, field string) (*attachment.Image, error) {
	return attachment.NewImage(owner, attachment.ImageOptions{
		Field:       field,
		Prefix:      a.cfg.Prefix,
		Sizes:       a.cfg.Sizes,
		Store:       a.store,
		Types:       a.cfg.ImageTypes,
		Transformer: a.transformer,
		Recorder:    a.recorder(),
	})
}

// withApp loads the configuration, opens the app for the duration of fn
// and closes it afterwards.
func withApp(ctx context.Context, cfg core.Config, fn func(*app) error) (err error) {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}

// validationFailure reports the owner's field errors for a rejected upload.
func validationFailure(row *attachment.Row, field string, err error) error {
	var verr *attachment.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	return fmt.Errorf("%s: %s", field, strings.Join(row.Errors(field), "; "))
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
