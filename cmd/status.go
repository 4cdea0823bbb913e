package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"marketsync/scheduler"
	"marketsync/services/syncer"

	"github.com/spf13/cobra"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status and upcoming runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			a, err := newApp(*opts)
			if err != nil {
				fmt.Fprintf(out, "Status unavailable: %v\n", err)
				return nil
			}
			defer a.close()

			printStatus(out, a.syncer.GetSyncStatus(cmd.Context()), a.scheduler.NextRuns())
			return nil
		},
	}
}

// printStatus renders the ledger view, row counts and next runs
func printStatus(out io.Writer, status syncer.Status, runs []scheduler.NextRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "DATA TYPE\tSTATUS\tLAST UPDATE\tRECORDS")
	for _, t := range status.Types {
		state := t.Status
		if state == "" {
			state = "UNKNOWN"
		}
		last := syncer.StatusNever
		if t.LastUpdate != nil {
			last = t.LastUpdate.Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.DataType, state, last, t.RecordsCount)
	}
	_ = w.Flush()

	if !status.Success {
		fmt.Fprintf(out, "\nStatus incomplete: %s\n", status.Error)
	}

	c := status.Counts
	fmt.Fprintf(out, "\nStocks: %d (active %d, ST %d)  Price bars: %d  Indicators: %d\n",
		c.Stocks, c.ActiveStocks, c.STStocks, c.PriceBars, c.Indicators)

	fmt.Fprintln(out, "\nNext runs:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range runs {
		fmt.Fprintf(w, "  %s\t%s\n", r.Name, r.Next.Format("2006-01-02 15:04 MST"))
	}
	_ = w.Flush()
}
