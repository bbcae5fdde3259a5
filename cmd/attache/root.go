package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"attache/internal/attachment"
	"attache/internal/core"
)

const configEnvKey = "ATTACHE_CONFIG"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "attache",
		Short:         "Attache stores file and image attachments on local disk or S3",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = "0.0.0"
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "TOML or YAML config file (env "+configEnvKey+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newPutFileCmd(opts),
		newPutImageCmd(opts),
		newURLCmd(opts),
		newCatCmd(opts),
		newClearCmd(opts),
		newRecropCmd(opts),
		newReplayCmd(opts),
		newServeCmd(opts),
	)

	return cmd
}

// loadConfig reads the configuration and installs the logger. Log output
// goes to the command's error stream so stdout stays clean for data.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (core.Config, error) {
	path := opts.configPath
	if path == "" {
		path = lookupEnv(configEnvKey)
	}

	cfg, err := core.Load(path)
	if err != nil {
		return core.Config{}, err
	}

	if err := configureLogger(cmd.ErrOrStderr(), opts.logLevel, cfg.LogLevel); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}

// ownerArgs is the record an attachment belongs to: <type> <id> <field>.
type ownerArgs struct {
	typeName string
	id       int64
	field    string
}

func parseOwnerArgs(args []string) (ownerArgs, error) {
	if len(args) < 3 {
		return ownerArgs{}, fmt.Errorf("type, id and field are required")
	}

	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return ownerArgs{}, fmt.Errorf("invalid id %q: %w", args[1], err)
	}

	return ownerArgs{typeName: args[0], id: id, field: args[2]}, nil
}

// row builds an owner whose name field holds storedName, if any.
func (o ownerArgs) row(storedName string) *attachment.Row {
	names := map[string]string{}
	if storedName != "" {
		names[o.field] = storedName
	}
	return attachment.NewRow(o.typeName, o.id, names)
}
