package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mechevolve/internal/history"
)

var historyDBPath string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the run-history database",
	Long: `Query the SQLite run-history database written during runs started with
--history-db. Unlike checkpoints, history keeps only per-generation
summaries, so it stays small enough to retain across many runs.`,
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs with recorded history",
	RunE:  runHistoryRuns,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the per-generation progress of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyRunsCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.PersistentFlags().StringVar(&historyDBPath, "history-db", "./data/history.db", "SQLite run-history database")
}

func runHistoryRuns(cmd *cobra.Command, args []string) error {
	hist, err := history.Open(cmd.Context(), historyDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	ids, err := hist.Runs(cmd.Context())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, id := range ids {
		fmt.Println(id)
	}
	fmt.Printf("\nTotal runs: %d\n", len(ids))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	hist, err := history.Open(cmd.Context(), historyDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	summaries, err := hist.RunSummaries(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Printf("No history recorded for run %s.\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GENERATION\tBEST ERROR\tAVG ERROR\tRECORDED")
	fmt.Fprintln(w, "----------\t----------\t---------\t--------")
	for _, row := range summaries {
		fmt.Fprintf(w, "%d\t%.6g\t%.6g\t%s\n",
			row.Generation,
			row.BestError,
			row.AvgError,
			row.RecordedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	last := summaries[len(summaries)-1]
	fmt.Printf("\nRun %s: %d generations recorded, latest best error %.6g\n",
		args[0], len(summaries), last.BestError)
	return nil
}
