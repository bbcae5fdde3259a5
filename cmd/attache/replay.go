package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var errNoJournal = errors.New("no journal configured")

func newReplayCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Retry storage operations that failed after commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				replayed, failed, err := a.replay(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, failed %d\n", replayed, failed)
				if failed > 0 {
					return fmt.Errorf("%d journaled operations still failing", failed)
				}
				return nil
			})
		},
	}
}

func (a *app) replay(ctx context.Context) (int, int, error) {
	if a.journal == nil {
		return 0, 0, errNoJournal
	}

	res, err := a.journal.Replay(ctx, a.store)
	if err != nil {
		return res.Replayed, res.Failed, fmt.Errorf("replay journal: %w", err)
	}
	if res.Replayed > 0 || res.Failed > 0 {
		slog.Info("Journal replay finished", "replayed", res.Replayed, "failed", res.Failed)
	}
	return res.Replayed, res.Failed, nil
}
