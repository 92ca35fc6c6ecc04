package cmd

import (
	"github.com/spf13/cobra"
	"live-monitor/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "live-monitor",
		Short: "watch tracked accounts for lives, transcribe them and flag risky speech",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	rootCmd.AddCommand(evaluate(config))
	return rootCmd
}
