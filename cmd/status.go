package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/adronaut/strategy-cli/internal/monitoring"
)

var statusLookbackHours int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health metrics",
	Long:  "Displays run, step, and patch review counts over the lookback window.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lookback := statusLookbackHours
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}

		collector := monitoring.NewCollector(st, nil)
		snap, err := collector.Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "since", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(statusCmd)
}

// formatSnapshot writes a tabular view of the metrics snapshot to w.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d\n", snap.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", snap.RunsCompleted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", snap.RunsFailed)
	_, _ = fmt.Fprintf(w, "  Awaiting review:\t%d\n", snap.RunsAwaitingReview)
	_, _ = fmt.Fprintf(w, "  Active:\t%d\n", snap.RunsActive)
	if snap.RunsCompleted+snap.RunsFailed > 0 {
		_, _ = fmt.Fprintf(w, "  Failure rate:\t%.1f%%\n", snap.RunFailRate*100)
	}
	_, _ = fmt.Fprintf(w, "Steps completed:\t%d\n", snap.StepsCompleted)
	_, _ = fmt.Fprintf(w, "Steps failed:\t%d\n", snap.StepsFailed)
	_, _ = fmt.Fprintf(w, "Patches proposed:\t%d\n", snap.PatchesProposed)
	_, _ = fmt.Fprintf(w, "  Approved:\t%d\n", snap.PatchesApproved)
	_, _ = fmt.Fprintf(w, "  Rejected:\t%d\n", snap.PatchesRejected)
	_, _ = fmt.Fprintf(w, "  Superseded:\t%d\n", snap.PatchesSuperseded)
	_ = w.Flush()
}
