package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/history"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently asked questions",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 for all)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	entries, err := history.Latest(filepath.Join(cfg.Storage.Dir, history.FileName), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No questions asked yet.")
		return nil
	}
	for _, e := range entries {
		status := string(e.Outcome)
		if e.Model != "" {
			status += " via " + e.Model
		}
		fmt.Fprintf(out, "%5d  %s  [%s] %s (%s)\n",
			e.Sequence, e.Timestamp.Local().Format("2006-01-02 15:04"), e.Route, e.Question, status)
	}
	return nil
}
