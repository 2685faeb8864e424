// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/objectgraph/cmd/objectgraph/cli"
	"github.com/bureau-foundation/objectgraph/lib/config"
	"github.com/bureau-foundation/objectgraph/lib/transport/remotetransport"
)

const shutdownTimeout = 10 * time.Second

type serveParams struct {
	common
	listen    string
	transport string
	tokenEnv  string
}

func serveCommand(stdout io.Writer) *cli.Command {
	var params serveParams
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve a transport to peers over HTTP",
		Description: `Serve one configured transport over the object protocol, so that
peers configured with a remote transport pointing here can check,
upload, and download records. Every namespace is served from the same
transport. Uploaded records are verified against their ids before
they are stored.

Runs until interrupted.`,
		Usage: "objectgraph serve [flags]",
		Args:  cli.NoArgs,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.StringVar(&params.listen, "listen", "127.0.0.1:7480", "address to listen on")
			flagSet.StringVar(&params.transport, "transport", "", "transport to serve (default: the configured local transport)")
			flagSet.StringVar(&params.tokenEnv, "token-env", "", "environment variable holding the bearer token clients must present")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			cfg, logger, err := params.load()
			if err != nil {
				return err
			}
			handler, release, err := serveHandler(ctx, cfg, params, logger)
			if err != nil {
				return err
			}
			defer release()

			listener, err := net.Listen("tcp", params.listen)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "serving on http://%s\n", listener.Addr())
			return serve(ctx, listener, handler, logger)
		},
	}
}

// serveHandler opens the transport to serve and wraps it in the object
// protocol handler.
func serveHandler(ctx context.Context, cfg *config.Config, params serveParams, logger *slog.Logger) (http.Handler, func(), error) {
	token := ""
	if params.tokenEnv != "" {
		token = os.Getenv(params.tokenEnv)
		if token == "" {
			return nil, nil, fmt.Errorf("--token-env %s: variable is empty", params.tokenEnv)
		}
	}
	backend, release, err := open(ctx, cfg, params.transport, "transport", "local", logger)
	if err != nil {
		return nil, nil, err
	}
	handler, err := remotetransport.NewHandler(remotetransport.HandlerConfig{
		Backend: remotetransport.Static(backend),
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	logger.Info("serving transport", "transport", backend.Name(), "authenticated", token != "")
	return handler, release, nil
}

// serve runs an HTTP server on listener until ctx is done, then shuts
// it down gracefully.
func serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	failed := make(chan error, 1)
	go func() {
		failed <- server.Serve(listener)
	}()

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-failed; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
