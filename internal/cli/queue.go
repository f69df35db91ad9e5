package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/10d3/nexora/internal/queue"
	"github.com/10d3/nexora/internal/record"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect pending and dropped actions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending actions in replay order",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				pending, err := a.queue.Pending(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "list queue", err)
				}
				return a.out.Success(pendingTable(pending))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "dropped",
		Short: "List actions dropped after repeated failures",
		Long: `List actions that failed three replays and were discarded. Their
changes never reached the server; acknowledge them with "nexora queue ack".`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				dropped, err := a.queue.Dropped(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "list dropped actions", err)
				}
				return a.out.Success(droppedTable(dropped))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ack <id>...",
		Short: "Acknowledge dropped actions",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				if err := a.queue.Acknowledge(cmd.Context(), args...); err != nil {
					return WrapExitError(ExitFailure, "acknowledge", err)
				}
				return a.out.Success(map[string]any{"acknowledged": args})
			})
		},
	})
	return cmd
}

func pendingTable(actions []queue.Action) *Table {
	t := &Table{
		Headers: []string{"id", "name", "retries", "enqueued", "last_error"},
		Empty:   "queue is empty",
	}
	for _, a := range actions {
		t.Rows = append(t.Rows, []string{
			a.ID, a.Name, strconv.Itoa(a.Retries), record.FormatTime(a.Timestamp), a.LastError,
		})
	}
	return t
}

func droppedTable(dropped []queue.Dropped) *Table {
	t := &Table{
		Headers: []string{"id", "name", "retries", "dropped", "last_error"},
		Empty:   "no unsynced changes",
	}
	for _, d := range dropped {
		t.Rows = append(t.Rows, []string{
			d.ID, d.Name, strconv.Itoa(d.Retries), record.FormatTime(d.DroppedAt), d.LastError,
		})
	}
	return t
}
