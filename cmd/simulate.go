package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	simulateRule       string
	simulateRecord     string
	simulateRecordFile string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Dry-run one rule against a hypothetical record",
	Long:  "Evaluates a stored rule against a JSON record and prints per-condition diagnostics. Nothing is written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		record, err := readRecord(simulateRecord, simulateRecordFile)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "simulate")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.SimulateRule(ctx, simulateRule, record)
		if err != nil {
			return eris.Wrap(err, "simulate rule")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// readRecord parses the record from an inline JSON string or a file.
func readRecord(inline, path string) (map[string]any, error) {
	data := []byte(inline)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "read record file")
		}
		data = b
	}
	if len(data) == 0 {
		return nil, eris.New("one of --record or --record-file is required")
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, eris.Wrap(err, "parse record")
	}
	if record == nil {
		return nil, eris.New("record must be a JSON object")
	}
	return record, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRule, "rule", "", "rule id")
	simulateCmd.Flags().StringVar(&simulateRecord, "record", "", "record as a JSON object")
	simulateCmd.Flags().StringVar(&simulateRecordFile, "record-file", "", "path to a JSON record")
	_ = simulateCmd.MarkFlagRequired("rule")
	simulateCmd.MarkFlagsMutuallyExclusive("record", "record-file")
	rootCmd.AddCommand(simulateCmd)
}
