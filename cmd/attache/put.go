package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type putOptions struct {
	name     string
	previous string
}

func newPutFileCmd(root *rootOptions) *cobra.Command {
	opts := &putOptions{}
	cmd := &cobra.Command{
		Use:   "put-file <type> <id> <field> <path>",
		Short: "Validate and store a file attachment",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				row := owner.row(opts.previous)
				f, err := a.file(row, owner.field)
				if err != nil {
					return err
				}

				f.Set(args[3])
				if opts.name != "" {
					f.SetName(opts.name)
				}
				if err := f.Validate(); err != nil {
					return validationFailure(row, owner.field, err)
				}
				if err := f.Commit(cmd.Context()); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.Key(), f.URL())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "stored file name (defaults to the base name of path)")
	cmd.Flags().StringVar(&opts.previous, "previous", "", "stored name of the file being replaced")
	return cmd
}

func newPutImageCmd(root *rootOptions) *cobra.Command {
	opts := &putOptions{}
	cmd := &cobra.Command{
		Use:   "put-image <type> <id> <field> <path>",
		Short: "Validate an image and store every configured size",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				row := owner.row(opts.previous)
				im, err := a.image(row, owner.field)
				if err != nil {
					return err
				}

				im.Set(args[3])
				if err := im.Validate(); err != nil {
					return validationFailure(row, owner.field, err)
				}
				if err := im.Commit(cmd.Context()); err != nil {
					return err
				}

				return printSizeURLs(cmd, im)
			})
		},
	}
	cmd.Flags().StringVar(&opts.previous, "previous", "", "extension of the image being replaced")
	return cmd
}
