// Nebulus is an autonomous software-engineering swarm. The overlord schedules
// containerized minions against GitHub issue queues and reviews their PRs.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nebulus-ai/nebulus/pkg/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "nebulus",
		Short:         "Autonomous software-engineering swarm",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the overlord YAML config")

	root.AddCommand(newOverlordCmd())
	root.AddCommand(newMinionCmd())
	root.AddCommand(newReviewCmd())
	root.AddCommand(newAuditCmd())

	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
