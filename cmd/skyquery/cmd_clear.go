package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var clearSnapshots bool

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached model list and, optionally, every snapshot",
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().BoolVar(&clearSnapshots, "snapshots", false, "Also delete every stored snapshot")
}

func runClear(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, appOptions{}, func(_ context.Context, a *app) error {
		a.session.Clear()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "🧹 Cleared cached models for profile %s\n", a.session.Profile())

		if !clearSnapshots {
			return nil
		}
		removed, err := a.store.Prune(0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🧹 Deleted %d snapshots\n", removed)
		return nil
	})
}
