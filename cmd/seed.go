package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rewards-engine/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo employees, rules and events from a YAML fixture",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := seed.LoadFile(seedFile)
		if err != nil {
			return err
		}

		if err := cfg.Validate("seed"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		res, err := seed.Apply(ctx, st, f)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "Seeded %d employees, %d rules, %d events.\n", res.Employees, res.Rules, res.Events)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "testdata/seed.yaml", "path to the YAML fixture")
	rootCmd.AddCommand(seedCmd)
}
