package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(root *rootOptions) *cobra.Command {
	var (
		name    string
		isImage bool
	)
	cmd := &cobra.Command{
		Use:   "clear <type> <id> <field>",
		Short: "Delete a stored attachment",
		Long:  "Delete a stored attachment. Deletion is best effort: failures are logged and journaled, not returned.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				row := owner.row(name)
				if !isImage {
					f, err := a.file(row, owner.field)
					if err != nil {
						return err
					}
					key := f.Key()
					f.Clear(cmd.Context())
					fmt.Fprintln(cmd.OutOrStdout(), key)
					return nil
				}

				im, err := a.image(row, owner.field)
				if err != nil {
					return err
				}
				keys := im.Keys()
				im.Clear(cmd.Context())
				for _, key := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "stored file name, or the image extension with --image")
	cmd.Flags().BoolVar(&isImage, "image", false, "clear every size of an image field")
	return cmd
}
