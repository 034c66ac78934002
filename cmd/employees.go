package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rewards-engine/internal/model"
)

var employeesCmd = &cobra.Command{
	Use:   "employees",
	Short: "Inspect employee point balances",
}

// -- employees list --

var employeesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees by point balance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		emps, err := st.ListEmployees(ctx)
		if err != nil {
			return eris.Wrap(err, "employees list")
		}
		if len(emps) == 0 {
			fmt.Fprintln(os.Stderr, "No employees found.")
			return nil
		}

		formatEmployees(os.Stdout, emps)
		return nil
	},
}

// -- employees show --

var employeesShowCmd = &cobra.Command{
	Use:   "show <employee-id>",
	Short: "Show an employee with their grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		emp, err := st.GetEmployee(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "employees show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(emp)
	},
}

func init() {
	employeesCmd.AddCommand(employeesListCmd, employeesShowCmd)
	rootCmd.AddCommand(employeesCmd)
}

// formatEmployees writes a leaderboard of employees to w.
func formatEmployees(out io.Writer, emps []model.Employee) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPOINTS\tONBOARDED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t---------")

	for _, e := range emps {
		name := e.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", truncateID(e.ID), name, e.PointBalance, e.Onboarded)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
