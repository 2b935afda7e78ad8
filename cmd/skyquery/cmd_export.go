package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/analyzer"
)

var (
	exportFormat   string
	exportOutput   string
	exportSnapshot int64
	exportInsights bool
	exportCollect  []string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a collected inventory",
	Long: `Export the latest stored snapshot (or a given revision, or a fresh
collection) as JSON or YAML, or as a markdown summary. With --insights the
per-resource summaries and recommendations are exported instead of the raw
records.`,
	Example: `  skyquery export                          # Latest snapshot as JSON
  skyquery export -f yaml -o inventory.yaml
  skyquery export --snapshot 12 -f markdown
  skyquery export --collect ec2,s3 --insights`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json, yaml, markdown")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Destination file (default stdout)")
	exportCmd.Flags().Int64Var(&exportSnapshot, "snapshot", 0, "Snapshot revision (default latest)")
	exportCmd.Flags().BoolVar(&exportInsights, "insights", false, "Export summaries and recommendations")
	exportCmd.Flags().StringSliceVar(&exportCollect, "collect", nil, "Collect these categories instead of reading a snapshot")
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, err := analyzer.ParseExportFormat(exportFormat)
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		if len(exportCollect) > 0 {
			a.session.Collect(ctx, parseCategories(cmd.ErrOrStderr(), exportCollect))
		} else {
			rev := exportSnapshot
			if rev == 0 {
				latest, ok := a.store.Latest()
				if !ok {
					return fmt.Errorf("no snapshots stored; run skyquery collect first")
				}
				rev = latest.Revision
			}
			if err := a.session.LoadSnapshot(rev); err != nil {
				return err
			}
		}

		w, closeFn, err := openOutput(cmd, exportOutput)
		if err != nil {
			return err
		}

		set := a.session.Data()
		if exportInsights {
			err = exportValue(w, analyzer.Insights(set), format)
		} else {
			err = exportInventory(w, set, format)
		}
		if cerr := closeFn(); err == nil {
			err = cerr
		}
		return err
	})
}
