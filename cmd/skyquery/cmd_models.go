package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	modelsSkipVerification bool
	modelsRefresh          bool
	modelsTest             bool
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models you can query",
	Long: `List Bedrock inference profiles and on-demand text models. Each candidate
is probed with a tiny request and only models that answer (or whose access
cannot be determined) are listed.

With --skip-verification nothing is probed: every text model is listed and
marked unverified, so some entries may not be invocable with your
credentials.`,
	Example: `  skyquery models                     # Verified list (cached for an hour)
  skyquery models --refresh           # Ignore the cache
  skyquery models --skip-verification # Fast, unverified list
  skyquery models --test -m anthropic.claude-3-haiku-20240307-v1:0`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().BoolVar(&modelsSkipVerification, "skip-verification", false, "List models without probing access")
	modelsCmd.Flags().BoolVar(&modelsRefresh, "refresh", false, "Ignore the cached model list")
	modelsCmd.Flags().BoolVar(&modelsTest, "test", false, "Send a test prompt to the selected model instead of listing")
}

func runModels(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if modelsSkipVerification {
		cfg.Model.SkipAccessVerification = true
	}

	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		if modelsTest {
			ok, raw := a.adapter.SelfTest(ctx, a.session.ModelID())
			if !ok {
				return fmt.Errorf("model %s failed the connection test", a.session.ModelID())
			}
			fmt.Fprintf(out, "✅ %s responded:\n%s\n", a.session.ModelID(), raw)
			return nil
		}

		models, err := a.models(ctx, modelsRefresh)
		if err != nil {
			return err
		}
		printModels(out, models)
		return nil
	})
}
