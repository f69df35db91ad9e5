package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/10d3/nexora/internal/queue"
)

// DrainResult is the output of the drain command.
type DrainResult struct {
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Requeued  int  `json:"requeued"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped"`
	Remaining int  `json:"remaining"`
}

func (r DrainResult) String() string {
	return fmt.Sprintf("attempted %d, succeeded %d, requeued %d, dropped %d, remaining %d",
		r.Attempted, r.Succeeded, r.Requeued, r.Dropped, r.Remaining)
}

func newDrainResult(rep queue.Report, remaining int) DrainResult {
	return DrainResult{
		Attempted: rep.Attempted,
		Succeeded: rep.Succeeded,
		Requeued:  rep.Requeued,
		Dropped:   rep.Dropped,
		Skipped:   rep.Skipped,
		Remaining: remaining,
	}
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued actions once",
		Long: `Replay every queued action against the configured remote in FIFO
order. Failed actions stay queued with their retry count incremented;
actions that fail for the third time are dropped, rolled back locally and
listed by "nexora queue dropped".`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				if err := a.requireRemote(); err != nil {
					return err
				}
				if !a.coord.Online() {
					return NewExitError(ExitFailure, "device is offline")
				}
				rep, drainErr := a.coord.Drain(cmd.Context())
				remaining, err := a.queue.Len(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "read queue", err)
				}
				if err := a.out.Success(newDrainResult(rep, remaining)); err != nil {
					return err
				}
				if drainErr != nil {
					return WrapExitError(ExitFailure, "drain", drainErr)
				}
				return nil
			})
		},
	}
}
