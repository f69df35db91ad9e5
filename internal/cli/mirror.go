package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

// NewMirrorCommand creates the mirror command group.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Read raw records from the local mirror",
		Long: `Read records straight from the local mirror, without going through
the coordinator. <kind> is a collection kind (customer_profile) or its
entity name (customer).`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <kind> <id>",
		Short: "Print one record",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				kind, err := a.resolveKind(args[0])
				if err != nil {
					return err
				}
				rec, found, err := a.store.Get(cmd.Context(), kind, args[1])
				if err != nil {
					return WrapExitError(ExitFailure, "read mirror", err)
				}
				if !found {
					return NewExitError(ExitFailure, fmt.Sprintf("%s %q not found", kind, args[1]))
				}
				return a.out.Success(recordOutput{rec})
			})
		},
	})

	var tenant string
	list := &cobra.Command{
		Use:   "list <kind>",
		Short: "List a tenant's records",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				kind, err := a.resolveKind(args[0])
				if err != nil {
					return err
				}
				if tenant == "" {
					tenant = a.cfg.Tenant
				}
				recs, err := a.store.QueryByTenant(cmd.Context(), kind, tenant)
				if err != nil {
					return WrapExitError(ExitFailure, "read mirror", err)
				}
				return a.out.Success(recordTable(recs))
			})
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "tenant id (defaults to the configured tenant)")
	cmd.AddCommand(list)
	return cmd
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the mirror, the queue and the dropped-action log",
		Long: `Delete every mirrored record, every pending action and every dropped
action. Pending changes that were not synced are lost.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "reset discards unsynced changes; pass --yes to confirm")
			}
			return withApp(rootOpts, cmd, func(a *app) error {
				if err := a.store.ClearAll(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "clear mirror", err)
				}
				return a.out.Success("mirror cleared")
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func (a *app) resolveKind(name string) (schema.Kind, error) {
	if coll, ok := a.registry.Lookup(schema.Kind(name)); ok {
		return coll.Kind, nil
	}
	if coll, ok := a.registry.ByEntity(name); ok {
		return coll.Kind, nil
	}
	return "", NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q (known: %v)", name, a.registry.Kinds()))
}

// recordOutput prints a record as its canonical JSON document.
type recordOutput struct {
	rec record.Record
}

func (r recordOutput) String() string {
	data, err := r.rec.MarshalJSON()
	if err != nil {
		return err.Error()
	}
	return string(data)
}

func (r recordOutput) MarshalJSON() ([]byte, error) {
	return r.rec.MarshalJSON()
}

func recordTable(recs []record.Record) *Table {
	t := &Table{
		Headers: []string{"id", "tenant", "updated", "data"},
		Empty:   "no records",
	}
	for _, rec := range recs {
		var updated string
		if rec.UpdatedAt != nil {
			updated = record.FormatTime(*rec.UpdatedAt)
		}
		data, err := json.Marshal(rec.Attrs)
		if err != nil {
			data = []byte(err.Error())
		}
		t.Rows = append(t.Rows, []string{rec.ID, rec.TenantID, updated, string(data)})
	}
	return t
}
