// Package evaluate maps a checks report and an LLM review onto a supervisor
// verdict, emitting a bounded revision request when warranted.
package evaluate

import (
	"fmt"
	"strings"

	"github.com/nebulus-ai/nebulus/pkg/review"
)

// Score is one evaluation axis verdict.
type Score string

const (
	ScorePass          Score = "pass"
	ScoreNeedsRevision Score = "needs_revision"
	ScoreFail          Score = "fail"
)

// MaxRevisions bounds how many revision cycles one issue may consume.
const MaxRevisions = 2

// Result is the evaluator's combined verdict for one PR revision.
type Result struct {
	Repo           string `json:"repo"`
	PRNumber       int    `json:"pr_number"`
	RevisionNumber int    `json:"revision_number"`

	TestScore   Score `json:"test_score"`
	LintScore   Score `json:"lint_score"`
	ReviewScore Score `json:"review_score"`

	TestFeedback   string `json:"test_feedback,omitempty"`
	LintFeedback   string `json:"lint_feedback,omitempty"`
	ReviewFeedback string `json:"review_feedback,omitempty"`
}

// Overall derives the combined score: any fail wins, then any needs_revision,
// else pass.
func (r *Result) Overall() Score {
	scores := []Score{r.TestScore, r.LintScore, r.ReviewScore}
	for _, s := range scores {
		if s == ScoreFail {
			return ScoreFail
		}
	}
	for _, s := range scores {
		if s == ScoreNeedsRevision {
			return ScoreNeedsRevision
		}
	}
	return ScorePass
}

// CombinedFeedback joins the per-axis feedback into one reviewer message.
func (r *Result) CombinedFeedback() string {
	var parts []string
	if r.TestFeedback != "" {
		parts = append(parts, "Tests: "+r.TestFeedback)
	}
	if r.LintFeedback != "" {
		parts = append(parts, "Lint: "+r.LintFeedback)
	}
	if r.ReviewFeedback != "" {
		parts = append(parts, "Review: "+r.ReviewFeedback)
	}
	return strings.Join(parts, "\n\n")
}

// RevisionRequest asks the scheduler to spawn a revision minion.
type RevisionRequest struct {
	Repo             string `json:"repo"`
	PRNumber         int    `json:"pr_number"`
	IssueNumber      int    `json:"issue_number"`
	Branch           string `json:"branch"`
	CombinedFeedback string `json:"combined_feedback"`
	RevisionNumber   int    `json:"revision_number"`
}

// Evaluate derives the verdict from the deterministic checks and the LLM
// review. Either input may be nil; a missing axis scores pass.
func Evaluate(repo string, prNumber, revisionNumber int, checks *review.ChecksReport, llmResult *review.Result) *Result {
	result := &Result{
		Repo:           repo,
		PRNumber:       prNumber,
		RevisionNumber: revisionNumber,
		TestScore:      ScorePass,
		LintScore:      ScorePass,
		ReviewScore:    ScorePass,
	}

	if checks != nil {
		if checks.Tests.Status == review.CheckFailed {
			result.TestScore = ScoreNeedsRevision
			result.TestFeedback = checks.Tests.Details
		}
		if checks.Lint.Status == review.CheckFailed {
			result.LintScore = ScoreNeedsRevision
			result.LintFeedback = checks.Lint.Details
		}
	}

	if llmResult != nil && llmResult.Decision == review.DecisionRequestChanges {
		result.ReviewScore = ScoreNeedsRevision
		result.ReviewFeedback = strings.Join(llmResult.Issues, "\n")
		if result.ReviewFeedback == "" {
			result.ReviewFeedback = llmResult.Summary
		}
	}
	return result
}

// RevisionFor emits a revision request when the overall verdict warrants one
// and the revision budget is not exhausted. Returns nil otherwise.
func RevisionFor(result *Result, issueNumber int, branch string) *RevisionRequest {
	if result.Overall() != ScoreNeedsRevision {
		return nil
	}
	if result.RevisionNumber >= MaxRevisions {
		return nil
	}
	return &RevisionRequest{
		Repo:             result.Repo,
		PRNumber:         result.PRNumber,
		IssueNumber:      issueNumber,
		Branch:           branch,
		CombinedFeedback: result.CombinedFeedback(),
		RevisionNumber:   result.RevisionNumber + 1,
	}
}

// Summary renders a one-line description for audit reasoning strings.
func (r *Result) Summary() string {
	return fmt.Sprintf("pr #%d revision %d: tests=%s lint=%s review=%s overall=%s",
		r.PRNumber, r.RevisionNumber, r.TestScore, r.LintScore, r.ReviewScore, r.Overall())
}
