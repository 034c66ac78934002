package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rewards-engine/internal/analytics"
	"github.com/sells-group/rewards-engine/internal/model"
)

var processEvents []string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Evaluate events against active rules and grant points",
	Long:  "Processes the given events (or every stored event when --event is omitted). Already granted (rule, event) pairs are skipped, so re-running is safe.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.ProcessEvents(ctx, processEvents)
		if err != nil {
			return eris.Wrap(err, "process events")
		}
		formatProcessResult(os.Stdout, res)

		metrics, err := env.Recorder.Metrics(ctx)
		if err != nil {
			return eris.Wrap(err, "load analytics")
		}
		if len(metrics) > 0 {
			_, _ = fmt.Fprintln(os.Stdout)
			formatAnalytics(os.Stdout, analytics.Format(
				analytics.Summarize(metrics, env.Calculator, env.Router.BaselineModel()),
			))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringSliceVar(&processEvents, "event", nil, "event id to process (repeatable, default all)")
	rootCmd.AddCommand(processCmd)
}

// formatProcessResult writes a run summary to w.
func formatProcessResult(out io.Writer, r model.ProcessResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Events:\t%d\n", r.TotalEvents)
	_, _ = fmt.Fprintf(w, "Rules evaluated:\t%d\n", r.TotalRulesEvaluated)
	_, _ = fmt.Fprintf(w, "Grants created:\t%d\n", r.GrantsCreated)
	_, _ = fmt.Fprintf(w, "Points awarded:\t%d\n", r.TotalPointsAwarded)
	_, _ = fmt.Fprintf(w, "Skipped (already granted):\t%d\n", r.SkippedExisting)
	_, _ = fmt.Fprintf(w, "Duration:\t%dms\n", r.DurationMs)
	_ = w.Flush()

	for _, e := range r.Errors {
		_, _ = fmt.Fprintf(out, "  error: %s\n", e)
	}
}

// formatAnalytics writes the AI judgment summary to w.
func formatAnalytics(out io.Writer, d analytics.Display) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "AI calls:\t%d\n", d.Summary.TotalCalls)
	_, _ = fmt.Fprintf(w, "Cached:\t%d (%s)\n", d.Summary.CachedCalls, d.Summary.CacheHitRate)
	_, _ = fmt.Fprintf(w, "Cost:\t%s\n", d.Summary.TotalCost)
	_, _ = fmt.Fprintf(w, "Savings vs baseline:\t%s (%s)\n", d.Summary.CostSavings, d.Summary.SavingsMultiplier)
	_, _ = fmt.Fprintf(w, "Avg latency:\t%s\n", d.Summary.AvgLatency)
	for _, tier := range sortedKeys(d.Complexity) {
		_, _ = fmt.Fprintf(w, "  %s:\t%s\n", tier, d.Complexity[tier])
	}
	for _, m := range sortedKeys(d.Models) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d calls\n", m, d.Models[m])
	}
	_ = w.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
