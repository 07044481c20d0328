package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nebulus-ai/nebulus/pkg/config"
	"github.com/nebulus-ai/nebulus/pkg/githost"
	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/review"
)

func newReviewCmd() *cobra.Command {
	var (
		repo     string
		post     bool
		merge    bool
		repoPath string
	)

	cmd := &cobra.Command{
		Use:   "review <pr-number>",
		Short: "Run the review pipeline against one pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prNumber int
			if _, err := fmt.Sscanf(args[0], "%d", &prNumber); err != nil || prNumber <= 0 {
				return fmt.Errorf("pr-number must be a positive integer, got %q", args[0])
			}

			cfg, err := config.LoadOverlord(configPath)
			if err != nil {
				return err
			}
			if repo == "" {
				repo = cfg.Scheduler.DefaultRepo
			}
			if repo == "" {
				return fmt.Errorf("no repository given; pass --repo or configure a default")
			}

			host := githost.NewGitHubClient(cfg.Scheduler.GitHubToken)
			pool := llm.NewPool(llm.NewBackend(cfg.LLM), cfg.Pool)
			pipeline := review.NewPipeline(host, pool, cfg.Review)

			result := pipeline.ReviewPR(cmd.Context(), repo, prNumber, review.Options{
				Post:      post,
				AutoMerge: merge,
				RepoPath:  repoPath,
			})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.Error != "" {
				return fmt.Errorf("review failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "owner/name of the repository")
	cmd.Flags().BoolVar(&post, "post", false, "post the review to the pull request")
	cmd.Flags().BoolVar(&merge, "merge", false, "auto-merge when the verdict is eligible")
	cmd.Flags().StringVar(&repoPath, "repo-path", "", "local checkout for deterministic checks")
	return cmd
}
