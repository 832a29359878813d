package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/chatsync/internal/ledger"
	"github.com/raphaelgruber/chatsync/internal/metrics"
	"github.com/spf13/cobra"
)

var usageDays int

var usageCmd = &cobra.Command{
	Use:   "usage [date]",
	Short: "Show token usage from the local ledger",
	Long: `Show the daily token totals recorded in the local ledger.

The date is given as YYYY-MM-DD and defaults to today. With --days the
given number of days ending at the date are listed.

Examples:
  chatsync usage
  chatsync usage 2026-10-01
  chatsync usage --days 7`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().IntVarP(&usageDays, "days", "d", 1, "number of days to show")
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	day := time.Now()
	if len(args) == 1 {
		parsed, err := time.ParseInLocation(time.DateOnly, args[0], time.Local)
		if err != nil {
			return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", args[0])
		}
		day = parsed
	}
	if usageDays < 1 {
		usageDays = 1
	}

	l := ledger.New(localStore.KV(), logger)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Token Usage\n")
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")

	var sumIn, sumOut int
	for i := usageDays - 1; i >= 0; i-- {
		date := ledger.DateKey(day.AddDate(0, 0, -i))
		totals, err := l.ReadTotals(ctx, date)
		if err != nil {
			return fmt.Errorf("read totals for %s: %w", date, err)
		}
		sumIn += totals.InputTokens
		sumOut += totals.OutputTokens
		fmt.Fprintf(out, "  %-15s in %10d  out %10d  total %10d\n",
			date, totals.InputTokens, totals.OutputTokens, totals.InputTokens+totals.OutputTokens)
	}

	if usageDays > 1 {
		fmt.Fprintf(out, "\n  %-15s in %10d  out %10d  total %10d\n", "All", sumIn, sumOut, sumIn+sumOut)
	}
	return nil
}

// printStats displays the statistics of a finished chat session.
func printStats(out io.Writer, stats metrics.Snapshot) {
	fmt.Fprintf(out, "Session Statistics\n")
	fmt.Fprintf(out, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(out, "Uptime: %.1f seconds\n", stats.UptimeSeconds)

	if stats.Generation != nil {
		fmt.Fprintf(out, "\nGenerations:\n")
		printOpStats(out, stats.Generation)
		printTokenStats(out, stats.Generation)
	}

	if stats.HistoryLoad != nil {
		fmt.Fprintf(out, "\nHistory Loads:\n")
		printOpStats(out, stats.HistoryLoad)
	}

	if stats.StoreWrite != nil {
		fmt.Fprintf(out, "\nStore Writes:\n")
		printOpStats(out, stats.StoreWrite)
	}

	var frames int64
	for _, n := range stats.Frames {
		frames += n
	}
	fmt.Fprintf(out, "\nFrames: %d received, %d malformed, %d duplicate finalizes dropped\n",
		frames, stats.Malformed, stats.Duplicates)
	if stats.Reconnects > 0 {
		fmt.Fprintf(out, "Reconnects: %d\n", stats.Reconnects)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(out io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(out, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(out, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(out io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(out, "  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Fprintf(out, ", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Fprintf(out, ", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Fprintf(out, ", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Fprintf(out, ", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Fprintln(out)
}
