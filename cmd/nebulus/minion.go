package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nebulus-ai/nebulus/pkg/config"
	"github.com/nebulus-ai/nebulus/pkg/minion"
)

func newMinionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "minion",
		Short: "Run one worker against the issue named in the environment",
		Long: `Runs the minion lifecycle inside a container: clone the repository,
drive the agent loop against the assigned issue, push a branch, open a PR,
and report back to the overlord callback URL. Configuration comes entirely
from the environment contract (MINION_ID, GITHUB_REPO, GITHUB_ISSUE, ...).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.MinionFromEnv()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			os.Exit(minion.New(cfg).Run(ctx))
			return nil
		},
	}
}
