// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the objectgraph command tree.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/objectgraph/cmd/objectgraph/cli"
	"github.com/bureau-foundation/objectgraph/lib/config"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
	"github.com/bureau-foundation/objectgraph/lib/version"
)

// Root builds and returns the objectgraph command tree, writing
// command output to stdout.
func Root() *cli.Command {
	return newRoot(os.Stdout)
}

func newRoot(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "objectgraph",
		Description: `objectgraph: content-addressed object graph storage.

Inspect records, copy graphs between the transports named in the
configuration file, and serve a transport to peers over HTTP.`,
		Subcommands: []*cli.Command{
			serveCommand(stdout),
			copyCommand(stdout),
			hasCommand(stdout),
			getCommand(stdout),
			closureCommand(stdout),
			showCommand(stdout),
			versionCommand(stdout),
		},
		Examples: []cli.Example{
			{
				Description: "Fill the local cache with a graph from the remote",
				Command:     "objectgraph copy 3f9a...c2 --from remote --to local",
			},
			{
				Description: "Serve the local store to peers",
				Command:     "objectgraph serve --listen :7480 --token-env OBJECTGRAPH_TOKEN",
			},
			{
				Description: "Show what a record references",
				Command:     "objectgraph closure 3f9a...c2",
			},
			{
				Description: "Print a stored graph as a tree",
				Command:     "objectgraph show 3f9a...c2 --transport remote",
			},
		},
	}
}

type versionInfo struct {
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
}

func versionCommand(stdout io.Writer) *cli.Command {
	output := cli.JSONOutput{Stdout: stdout}
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Args:    cli.NoArgs,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			output.Register(flagSet)
			return flagSet
		},
		Run: func(context.Context, []string) error {
			info := versionInfo{
				Version:  version.Info(),
				Commit:   version.Commit(),
				Go:       runtime.Version(),
				Platform: runtime.GOOS + "/" + runtime.GOARCH,
			}
			if done, err := output.Emit(info); done {
				return err
			}
			fmt.Fprintf(stdout, "objectgraph %s\n", version.Full())
			return nil
		},
	}
}

// common holds the flags every command shares.
type common struct {
	configPath string
	logLevel   string
}

func (c *common) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&c.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// load reads the configuration and builds the logger it describes.
func (c *common) load() (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case c.configPath != "":
		cfg, err = config.LoadFile(c.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, cfg.Logger(), nil
}

// open builds the transport named by the flag, or the one the config
// file names under key when the flag is empty. The returned function
// releases it.
func open(ctx context.Context, cfg *config.Config, flagValue, flagName, key string, logger *slog.Logger) (transport.Transport, func(), error) {
	name := flagValue
	if name == "" {
		name = configured(cfg, key)
	}
	if name == "" {
		return nil, nil, fmt.Errorf("no transport selected: pass --%s or set %q in the config file", flagName, key)
	}
	opened, err := cfg.Open(ctx, name, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening transport %q: %w", name, err)
	}
	release := func() {
		if closer, ok := opened.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("closing transport failed", "transport", name, "error", err)
			}
		}
	}
	return opened, release, nil
}

func configured(cfg *config.Config, key string) string {
	switch key {
	case "local":
		return cfg.Local
	case "remote":
		return cfg.Remote
	}
	return ""
}

// parseIDs parses record ids given as arguments.
func parseIDs(args []string) ([]object.ID, error) {
	ids := make([]object.ID, len(args))
	for i, arg := range args {
		id, err := object.ParseID(arg)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
