package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/classifier"
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect [categories...]",
	Short: "Collect resource inventory and store it as a snapshot",
	Long: `Collect resource metadata for the given categories and store the result
as a new snapshot. Categories are fetched one at a time; a category that
fails is recorded with its error and never stops the others.

Without arguments the default categories (EC2, S3, Lambda) are collected.`,
	Example: `  skyquery collect                    # Default categories
  skyquery collect ec2 iam rds        # Specific categories
  skyquery collect all                # Every category
  skyquery collect --profile prod s3  # Another credential profile`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cats := parseCategories(out, args)
	if len(args) == 0 {
		cats = classifier.DefaultCategories
	}
	if len(cats) == 0 {
		return fmt.Errorf("no known categories in %v", args)
	}

	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		res := a.session.Collect(ctx, cats)
		printCollect(out, res, a.session.Data())
		return nil
	})
}
