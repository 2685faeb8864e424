// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/objectgraph/cmd/objectgraph/cli"
	"github.com/bureau-foundation/objectgraph/cmd/objectgraph/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Root().Execute(ctx, os.Args[1:])
	stop()
	if err == nil {
		return
	}

	var exit *cli.ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(os.Stderr, "objectgraph: %v\n", exit.Err)
		}
		os.Exit(exit.Code)
	}
	fmt.Fprintf(os.Stderr, "objectgraph: %v\n", err)
	os.Exit(1)
}
