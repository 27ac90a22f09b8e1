// Package commands implements the resumos CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "resumos",
		Short: "Resumos - WhatsApp group summaries on demand",
		Long: `Resumos is a WhatsApp bot that summarizes group conversations.
Send "#resumo" in a group for the last hour, or "#resumo 50" for the
last 50 messages. The summary is deleted again after a few minutes.

Examples:
  resumos setup
  resumos serve
  resumos serve --config ./config.yaml
  resumos config set-key
  resumos logout`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newLogoutCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
