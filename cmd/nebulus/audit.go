package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nebulus-ai/nebulus/pkg/audit"
	"github.com/nebulus-ai/nebulus/pkg/config"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the tamper-evident audit trail",
	}
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

func openTrail() (*audit.Trail, error) {
	cfg, err := config.LoadOverlord(configPath)
	if err != nil {
		return nil, err
	}
	return audit.Open(audit.Config{DataDir: cfg.DataDir})
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain and report any breaks",
		RunE: func(_ *cobra.Command, _ []string) error {
			trail, err := openTrail()
			if err != nil {
				return err
			}
			defer trail.Close()

			valid, issues, err := trail.VerifyIntegrity()
			if err != nil {
				return err
			}
			if valid {
				fmt.Println("audit trail intact")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(os.Stderr, issue)
			}
			return fmt.Errorf("audit trail integrity broken (%d issue(s))", len(issues))
		},
	}
}

func newAuditExportCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the trail (optionally one task) as JSON with integrity status",
		RunE: func(_ *cobra.Command, _ []string) error {
			trail, err := openTrail()
			if err != nil {
				return err
			}
			defer trail.Close()

			export, err := trail.ExportLog(taskID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(export)
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "restrict the export to one task")
	return cmd
}
