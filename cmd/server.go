package cmd

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"live-monitor/config"
	server2 "live-monitor/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, poller and transcription workers",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunMigrate(config)
		},
	}
}

func evaluate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [account-id]",
		Short: "run one presence check over one or every tracked account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var accountID *uuid.UUID
			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return err
				}
				accountID = &id
			}
			return server2.RunEvaluate(cmd.Context(), config, accountID)
		},
	}
}
