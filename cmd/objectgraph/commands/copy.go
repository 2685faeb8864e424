// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/objectgraph/cmd/objectgraph/cli"
	"github.com/bureau-foundation/objectgraph/lib/graphcopy"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// progressInterval is how many records pass between progress log lines.
const progressInterval = 1000

type copyResult struct {
	RootID      object.ID `json:"root_id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Closure     int       `json:"closure"`
	Copied      int       `json:"copied"`
}

func copyCommand(stdout io.Writer) *cli.Command {
	var (
		params      common
		output      = cli.JSONOutput{Stdout: stdout}
		from, to    string
		concurrency int
		batchSize   int
		complete    bool
	)
	return &cli.Command{
		Name:    "copy",
		Aliases: []string{"cp"},
		Summary: "Copy a graph between transports",
		Description: `Copy a record and everything it references from one transport to
another. Records the destination already holds are skipped, and the
root is written last, so an interrupted copy can simply be run again.
With --complete, a destination that already holds the root is still
checked record by record and its missing records are filled in.`,
		Usage: "objectgraph copy <root-id> [flags]",
		Args:  cli.ExactArgs(1, "root id"),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("copy", pflag.ContinueOnError)
			params.addFlags(flagSet)
			output.Register(flagSet)
			flagSet.StringVar(&from, "from", "", "source transport (default: the configured remote)")
			flagSet.StringVar(&to, "to", "", "destination transport (default: the configured local transport)")
			flagSet.IntVar(&concurrency, "concurrency", 0, "parallel transfers (default: configured, else 8)")
			flagSet.IntVar(&batchSize, "batch-size", 0, "ids per existence check or batch download (default 500)")
			flagSet.BoolVar(&complete, "complete", false, "check every record even when the destination holds the root")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Mirror a graph into an archive store", Command: "objectgraph copy 3f9a...c2 --from local --to archive"},
			{Description: "Repair a cache that lost records", Command: "objectgraph copy 3f9a...c2 --complete"},
		},
		Run: func(ctx context.Context, args []string) error {
			id, err := object.ParseID(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			source, releaseSource, err := open(ctx, cfg, from, "from", "remote", logger)
			if err != nil {
				return err
			}
			defer releaseSource()
			destination, releaseDestination, err := open(ctx, cfg, to, "to", "local", logger)
			if err != nil {
				return err
			}
			defer releaseDestination()

			if concurrency == 0 {
				concurrency = cfg.Concurrency
			}
			copied, err := graphcopy.CopyObjectAndChildren(ctx, id, source, destination, graphcopy.Options{
				Concurrency: concurrency,
				BatchSize:   batchSize,
				Complete:    complete,
				Logger:      logger,
				OnProgress: func(progress transport.Progress) {
					if progress.Done%progressInterval == 0 {
						logger.Info("copy progress", "done", progress.Done, "total", progress.Total)
					}
				},
			})
			if err != nil {
				return err
			}

			result := copyResult{
				RootID:      id,
				Source:      source.Name(),
				Destination: destination.Name(),
				Closure:     copied.Closure,
				Copied:      copied.Copied,
			}
			if done, err := output.Emit(result); done {
				return err
			}
			if result.Copied == 0 {
				fmt.Fprintf(stdout, "%s already holds %s\n", result.Destination, id.Short())
				return nil
			}
			fmt.Fprintf(stdout, "copied %d of %d records of %s from %s to %s\n",
				result.Copied, result.Closure+1, id.Short(), result.Source, result.Destination)
			return nil
		},
	}
}
