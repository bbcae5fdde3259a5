package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attache/internal/rendition"
)

func newRecropCmd(root *rootOptions) *cobra.Command {
	var (
		ext      string
		from, to string
		region   rendition.Region
	)
	cmd := &cobra.Command{
		Use:   "recrop <type> <id> <field>",
		Short: "Re-derive one image size from a region of another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}
			if ext == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				im, err := a.image(owner.row(ext), owner.field)
				if err != nil {
					return err
				}
				if err := im.Recrop(cmd.Context(), from, to, region); err != nil {
					return err
				}

				url, err := im.URL(to)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", to, url)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ext, "name", "", "extension of the stored image")
	cmd.Flags().StringVar(&from, "from", "original", "size to crop from")
	cmd.Flags().StringVar(&to, "to", "", "size to replace")
	cmd.Flags().IntVar(&region.X, "x", 0, "left edge of the crop region")
	cmd.Flags().IntVar(&region.Y, "y", 0, "top edge of the crop region")
	cmd.Flags().IntVar(&region.Width, "width", 0, "width of the crop region")
	cmd.Flags().IntVar(&region.Height, "height", 0, "height of the crop region")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
