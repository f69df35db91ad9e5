package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/remote/stub"
	"github.com/10d3/nexora/internal/schema"
)

// NewStubServerCommand creates the stub-server command.
func NewStubServerCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stub-server",
		Short: "Serve an in-memory remote for development",
		Long: `Serve the action protocol (POST /actions/{verb}_{entity}) from memory.
Point remote.url at it to exercise online and offline flows locally. State
is lost on exit.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts.ConfigFile, cmd.Flags())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			logger, err := newLogger(cfg.Log, rootOpts.Verbose, cmd.ErrOrStderr())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			defer func() { _ = logger.Sync() }()

			reg, err := schema.Default()
			if err != nil {
				return WrapExitError(ExitFailure, "compile entity schema", err)
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return WrapExitError(ExitCommandError, "listen", err)
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serveStub(ctx, ln, stub.New(reg, stub.WithLogger(logger.Named("stub"))), cmd, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func serveStub(ctx context.Context, ln net.Listener, s *stub.Server, cmd *cobra.Command, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stub server listening on http://%s\n", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "serve", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("stub server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	return nil
}
