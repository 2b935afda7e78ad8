package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/storage"
	"github.com/yairfalse/skyquery/pkg/inventory"
)

// snapshotsCmd represents the snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect stored inventory snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, appOptions{}, func(_ context.Context, a *app) error {
			printSnapshots(cmd.OutOrStdout(), a.store.List())
			return nil
		})
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show [revision]",
	Short: "Show the categories and counts of a snapshot (default latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(_ context.Context, a *app) error {
			info, err := resolveSnapshot(a.store, args)
			if err != nil {
				return err
			}
			set, err := a.store.Load(info.Revision)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSnapshots(out, []storage.SnapshotInfo{info})
			printSetSummary(out, set)
			return nil
		})
	},
}

var snapshotsDiffCmd = &cobra.Command{
	Use:   "diff [from] [to]",
	Short: "Show records added, deleted or modified between two snapshots",
	Long: `Compare two snapshots record by record. Without arguments the latest
snapshot is compared with the one before it; with one argument that
revision is compared with its predecessor.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(_ context.Context, a *app) error {
			from, to, err := resolveDiffRange(a.store, args)
			if err != nil {
				return err
			}
			prev, err := a.store.Load(from)
			if err != nil {
				return err
			}
			cur, err := a.store.Load(to)
			if err != nil {
				return err
			}
			printDiff(cmd, from, to, inventory.Diff(prev, cur))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd, snapshotsDiffCmd)
}

func parseRevision(s string) (int64, error) {
	rev, err := strconv.ParseInt(s, 10, 64)
	if err != nil || rev <= 0 {
		return 0, fmt.Errorf("invalid revision %q", s)
	}
	return rev, nil
}

func resolveSnapshot(st storage.SnapshotReader, args []string) (storage.SnapshotInfo, error) {
	if len(args) == 0 {
		latest, ok := st.Latest()
		if !ok {
			return storage.SnapshotInfo{}, fmt.Errorf("no snapshots stored")
		}
		return latest, nil
	}
	rev, err := parseRevision(args[0])
	if err != nil {
		return storage.SnapshotInfo{}, err
	}
	info, ok := st.Info(rev)
	if !ok {
		return storage.SnapshotInfo{}, fmt.Errorf("snapshot %d: %w", rev, storage.ErrNotFound)
	}
	return info, nil
}

func resolveDiffRange(st storage.SnapshotReader, args []string) (int64, int64, error) {
	if len(args) == 2 {
		from, err := parseRevision(args[0])
		if err != nil {
			return 0, 0, err
		}
		to, err := parseRevision(args[1])
		if err != nil {
			return 0, 0, err
		}
		return from, to, nil
	}

	to, err := resolveSnapshot(st, args)
	if err != nil {
		return 0, 0, err
	}
	prev, ok := st.Previous(to.Revision)
	if !ok {
		return 0, 0, fmt.Errorf("snapshot %d has no predecessor", to.Revision)
	}
	return prev.Revision, to.Revision, nil
}

func printDiff(cmd *cobra.Command, from, to int64, diffs []inventory.RecordDiff) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Changes from snapshot %d to %d: %d\n", from, to, len(diffs))
	for _, d := range diffs {
		symbol := "~"
		switch d.Type {
		case inventory.DiffAdded:
			symbol = "+"
		case inventory.DiffDeleted:
			symbol = "-"
		}
		fmt.Fprintf(out, "  %s %-12s %-16s %s\n", symbol, d.Category, d.Subtype, d.ID)
	}
}
