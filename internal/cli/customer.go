package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/10d3/nexora/internal/entity"
)

// CustomerResult is the output of customer add.
type CustomerResult struct {
	Customer entity.CustomerProfile `json:"customer"`
	Queued   bool                   `json:"queued"`
}

func (r CustomerResult) String() string {
	name := strings.TrimSpace(r.Customer.FirstName + " " + r.Customer.LastName)
	if r.Queued {
		return fmt.Sprintf("customer %s (%s) saved locally; queued for sync", r.Customer.ID, name)
	}
	return fmt.Sprintf("customer %s (%s) created", r.Customer.ID, name)
}

// NewCustomerCommand creates the customer command group.
func NewCustomerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customer profiles through the sync coordinator",
	}

	var c entity.CustomerProfile
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a customer (queued when offline)",
		Example: `  nexora customer add --first Ada --last Lovelace --email ada@example.com
  nexora --offline customer add --first Grace --last Hopper`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				if err := a.requireRemote(); err != nil {
					return err
				}
				if err := a.requireTenant(); err != nil {
					return err
				}
				online := a.coord.Online()
				created, err := a.customers.Create(cmd.Context(), a.user(), c)
				if err != nil {
					return WrapExitError(ExitFailure, "create customer", err)
				}
				return a.out.Success(CustomerResult{Customer: created, Queued: !online})
			})
		},
	}
	add.Flags().StringVar(&c.FirstName, "first", "", "first name")
	add.Flags().StringVar(&c.LastName, "last", "", "last name")
	add.Flags().StringVar(&c.Email, "email", "", "email address")
	add.Flags().StringVar(&c.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&c.Notes, "notes", "", "free-form notes")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the tenant's customers (from the mirror when offline)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				if err := a.requireRemote(); err != nil {
					return err
				}
				if err := a.requireTenant(); err != nil {
					return err
				}
				customers, err := a.customers.List(cmd.Context(), a.user())
				if err != nil {
					return WrapExitError(ExitFailure, "list customers", err)
				}
				return a.out.Success(customerTable(customers))
			})
		},
	})
	return cmd
}

func customerTable(customers []entity.CustomerProfile) *Table {
	t := &Table{
		Headers: []string{"id", "name", "email", "phone", "points"},
		Empty:   "no customers",
	}
	for _, c := range customers {
		t.Rows = append(t.Rows, []string{
			c.ID,
			strings.TrimSpace(c.FirstName + " " + c.LastName),
			c.Email,
			c.Phone,
			strconv.FormatInt(c.LoyaltyPoints, 10),
		})
	}
	return t
}
