package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/analyzer"
	"github.com/yairfalse/skyquery/internal/session"
)

var (
	askExplain  bool
	askRefresh  bool
	askLatest   bool
	askSnapshot int64
	askExport   string
	askOutput   string
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your infrastructure",
	Long: `Ask a free-text question. The categories the question needs are collected
(or read from a stored snapshot), then the question is matched against the
structured analyses: security groups, VPC resources, instance details, cost,
compliance, relationships and unused resources. Anything else is answered by
the configured model with the collected inventory as context.`,
	Example: `  skyquery ask "show running ec2 with security groups"
  skyquery ask --latest "which security groups are unused"
  skyquery ask --explain "run a compliance check"
  skyquery ask --export csv -o sgs.csv "running ec2 with security groups"
  skyquery ask -m openai:gpt-4o-mini "what lambda runtimes do we use"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().BoolVar(&askExplain, "explain", false, "Also ask the model to explain a structured result")
	askCmd.Flags().BoolVar(&askRefresh, "refresh", false, "Collect even when a loaded snapshot covers the question")
	askCmd.Flags().BoolVar(&askLatest, "latest", false, "Start from the latest stored snapshot")
	askCmd.Flags().Int64Var(&askSnapshot, "snapshot", 0, "Start from a stored snapshot revision")
	askCmd.Flags().StringVar(&askExport, "export", "", "Export the result: json, yaml, csv, markdown")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "Export destination (default stdout)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	var format analyzer.ExportFormat
	if askExport != "" {
		f, err := analyzer.ParseExportFormat(askExport)
		if err != nil {
			return err
		}
		format = f
	}

	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		if err := loadStartingSnapshot(a); err != nil {
			return err
		}

		ans := a.session.Ask(ctx, question, session.AskOptions{
			Refresh: askRefresh,
			Explain: askExplain,
		})

		if format == "" {
			printAnswer(cmd.OutOrStdout(), ans)
			return nil
		}
		return exportAnswer(cmd, ans, format)
	})
}

func loadStartingSnapshot(a *app) error {
	rev := askSnapshot
	if rev == 0 && askLatest {
		latest, ok := a.store.Latest()
		if !ok {
			return fmt.Errorf("no snapshots stored; run skyquery collect first")
		}
		rev = latest.Revision
	}
	if rev == 0 {
		return nil
	}
	return a.session.LoadSnapshot(rev)
}

func exportAnswer(cmd *cobra.Command, ans session.Answer, format analyzer.ExportFormat) error {
	w, closeFn, err := openOutput(cmd, askOutput)
	if err != nil {
		return err
	}

	if ans.Result.Structured() {
		err = analyzer.Export(w, ans.Result, format)
	} else {
		err = exportGeneral(w, ans, format)
	}
	if cerr := closeFn(); err == nil {
		err = cerr
	}
	return err
}
