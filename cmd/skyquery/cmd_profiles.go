package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// profilesCmd represents the profiles command
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List and test AWS credential profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles from the shared config and credentials files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, appOptions{}, func(_ context.Context, a *app) error {
			out := cmd.OutOrStdout()
			for _, name := range a.profiles.ListProfiles() {
				marker := " "
				if name == a.session.Profile() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, name)
			}
			return nil
		})
	},
}

var profilesTestCmd = &cobra.Command{
	Use:   "test [profile]",
	Short: "Check that a profile can authenticate",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			name := a.session.Profile()
			if len(args) == 1 {
				name = args[0]
			}
			info, err := a.profiles.TestProfile(ctx, name)
			if err != nil {
				return fmt.Errorf("profile %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s\n   Account: %s\n   ARN:     %s\n", name, info.Account, info.ARN)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd, profilesTestCmd)
}
