package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nebulus-ai/nebulus/pkg/api"
	"github.com/nebulus-ai/nebulus/pkg/audit"
	"github.com/nebulus-ai/nebulus/pkg/config"
	"github.com/nebulus-ai/nebulus/pkg/container"
	"github.com/nebulus-ai/nebulus/pkg/githost"
	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/overlord"
	"github.com/nebulus-ai/nebulus/pkg/review"
	"github.com/nebulus-ai/nebulus/pkg/scanner"
	"github.com/nebulus-ai/nebulus/pkg/slack"
	"github.com/nebulus-ai/nebulus/pkg/state"
	"github.com/nebulus-ai/nebulus/pkg/version"
)

func newOverlordCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "overlord",
		Short: "Run the scheduler, callback API, and review pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOverlord(cmd.Context(), dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record container operations without a Docker daemon")
	return cmd
}

func runOverlord(parent context.Context, dryRun bool) error {
	cfg, err := config.LoadOverlord(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	logger := slog.Default().With("component", "main")
	logger.Info("Starting overlord", "version", version.Full(), "data_dir", cfg.DataDir, "dry_run", dryRun)

	// 1. Durable stores.
	store, err := state.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	trail, err := audit.Open(audit.Config{DataDir: cfg.DataDir, Sign: cfg.SignAudit})
	if err != nil {
		return err
	}
	defer trail.Close()

	// 2. Container runtime.
	var containers container.Manager
	if dryRun {
		containers = container.NewStubManager()
	} else {
		docker, err := container.NewDockerManager(cfg.Docker)
		if err != nil {
			return err
		}
		defer docker.Close()
		containers = docker
	}

	// 3. GitHub surfaces and the review pipeline.
	ghClient := githost.NewGitHubClient(cfg.Scheduler.GitHubToken)
	queueScanner := scanner.New(ghClient, cfg.Scanner)

	backend := llm.NewBackend(cfg.LLM)
	pool := llm.NewPool(backend, cfg.Pool)
	pipeline := review.NewPipeline(ghClient, pool, cfg.Review)

	// 4. Scheduler plus optional Slack notifier. The service is nil-safe,
	// so an unconfigured deployment just gets a no-op notifier.
	sched := overlord.New(cfg.Scheduler, store, trail, containers, queueScanner, pipeline,
		slack.NewService(cfg.Slack))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	server := api.NewServer(cfg.API, sched, store, trail)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}
