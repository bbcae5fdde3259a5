package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"attache/internal/auth"
	"attache/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		listen         string
		replayInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve public blobs, the browse page and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				return a.serve(cmd.Context(), replayInterval)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides server.listen)")
	cmd.Flags().DurationVar(&replayInterval, "replay-interval", time.Minute, "how often to replay the journal; 0 disables")
	return cmd
}

func (a *app) serve(ctx context.Context, replayInterval time.Duration) error {
	opts := server.Options{
		Store:    a.store,
		Registry: a.registry,
	}
	if a.cfg.Prefix != "" {
		opts.Prefix = strings.TrimSuffix(a.cfg.Prefix, "/") + "/"
	}
	if a.local != nil {
		opts.FilesDir = a.local.PublicDir()
	}
	if a.cfg.Server.Username != "" {
		opts.Auth = auth.NewBasicAuthEngine(a.cfg.Server.Username, a.cfg.Server.Password)
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Attache HTTP server", "listen", a.cfg.Server.Listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	if a.journal != nil && replayInterval > 0 {
		eg.Go(func() error {
			ticker := time.NewTicker(replayInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, _, err := a.replay(ctx); err != nil && ctx.Err() == nil {
						slog.Error("Journal replay failed", "err", err)
					}
				}
			}
		})
	}

	slog.Info("Attache Started")
	return eg.Wait()
}
