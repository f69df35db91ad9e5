package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch connectivity and drain the queue on reconnect",
		Long: `Open the mirror, start the connectivity monitor and the sync
coordinator, and replay queued actions every time the device comes back
online. Runs until interrupted.

Example:
  nexora run --config nexora.yaml
  NEXORA_CONNECTIVITY_MARKER=/run/nexora/online nexora run`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				return runAgent(cmd, a)
			})
		},
	}
}

func runAgent(cmd *cobra.Command, a *app) error {
	if err := a.requireRemote(); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("agent starting",
		zap.String("db", a.cfg.DB),
		zap.String("remote", a.cfg.Remote.URL),
		zap.String("state", string(a.monitor.State())))
	fmt.Fprintln(cmd.OutOrStdout(), "Agent started. Press Ctrl-C to stop.")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.coord.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "agent error", err)
	}
	a.logger.Info("agent stopped")
	return nil
}
