package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attache/internal/attachment"
)

type lookupOptions struct {
	name string
	size string
}

func (o *lookupOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.name, "name", "", "stored file name, or the image extension with --size")
	cmd.Flags().StringVar(&o.size, "size", "", "image size; treats the field as an image field")
}

func newURLCmd(root *rootOptions) *cobra.Command {
	opts := &lookupOptions{}
	cmd := &cobra.Command{
		Use:   "url <type> <id> <field>",
		Short: "Print the public URL of an attachment",
		Args:  cobra.ExactArgs(3),
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
				row := owner.row(opts.name)
				if opts.size == "" {
					f, err := a.file(row, owner.field)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), f.URL())
					return nil
				}

				im, err := a.image(row, owner.field)
				if err != nil {
					return err
				}
				url, err := im.URL(opts.size)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newCatCmd(root *rootOptions) *cobra.Command {
	opts := &lookupOptions{}
	cmd := &cobra.Command{
		Use:   "cat <type> <id> <field>",
		Short: "Write the stored bytes of an attachment to stdout",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}
			if opts.name == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), cfg, func(a *app) error {
				row := owner.row(opts.name)

				var data []byte
				if opts.size == "" {
					f, err := a.file(row, owner.field)
					if err != nil {
						return err
					}
					data, err = f.Contents(cmd.Context())
					if err != nil {
						return err
					}
				} else {
					im, err := a.image(row, owner.field)
					if err != nil {
						return err
					}
					data, err = im.Contents(cmd.Context(), opts.size)
					if err != nil {
						return err
					}
				}

				_, err := cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func printSizeURLs(cmd *cobra.Command, im *attachment.Image) error {
	for _, size := range im.Sizes() {
		url, err := im.URL(size.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", size.Name, url)
	}
	return nil
}
