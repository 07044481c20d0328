package review

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// CheckStatus is the outcome of one deterministic check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "PASSED"
	CheckFailed  CheckStatus = "FAILED"
	CheckWarning CheckStatus = "WARNING"
	CheckSkipped CheckStatus = "SKIPPED"
)

// CheckResult is one check's verdict with human-readable details.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Details string      `json:"details,omitempty"`
}

// ChecksReport aggregates the deterministic checks for one PR.
type ChecksReport struct {
	Tests      CheckResult `json:"tests"`
	Lint       CheckResult `json:"lint"`
	Security   CheckResult `json:"security"`
	Complexity CheckResult `json:"complexity"`
	FileSizes  CheckResult `json:"file_sizes"`
}

// AllPassed tolerates WARNING and SKIPPED; only FAILED breaks it.
func (r *ChecksReport) AllPassed() bool {
	for _, c := range r.Results() {
		if c.Status == CheckFailed {
			return false
		}
	}
	return true
}

// Results returns the checks in presentation order.
func (r *ChecksReport) Results() []CheckResult {
	return []CheckResult{r.Tests, r.Lint, r.Security, r.Complexity, r.FileSizes}
}

// CheckConfig names the tools the deterministic checks shell out to.
type CheckConfig struct {
	TestCommand       []string `yaml:"test_command"`
	LintCommand       []string `yaml:"lint_command"`
	ComplexityCommand []string `yaml:"complexity_command"`
}

// DefaultCheckConfig targets Python projects, the dominant minion workload.
func DefaultCheckConfig() CheckConfig {
	return CheckConfig{
		TestCommand:       []string{"pytest", "--tb=short", "-q"},
		LintCommand:       []string{"ruff", "check"},
		ComplexityCommand: []string{"radon", "cc", "-s", "-a"},
	}
}

const (
	testTimeout = 5 * time.Minute
	// pytest exits 5 when no tests were collected.
	exitNoTestsCollected = 5

	maxLintLocations = 10
	maxSourceBytes   = 500 * 1024
	maxSourceLines   = 1000
)

// Checker runs the deterministic checks against a local checkout.
type Checker struct {
	config CheckConfig
}

// NewChecker returns a checker with the given tool commands.
func NewChecker(config CheckConfig) *Checker {
	defaults := DefaultCheckConfig()
	if len(config.TestCommand) == 0 {
		config.TestCommand = defaults.TestCommand
	}
	if len(config.LintCommand) == 0 {
		config.LintCommand = defaults.LintCommand
	}
	if len(config.ComplexityCommand) == 0 {
		config.ComplexityCommand = defaults.ComplexityCommand
	}
	return &Checker{config: config}
}

// Run executes all five checks against repoPath. changedFiles are
// repo-relative paths from the PR diff.
func (c *Checker) Run(ctx context.Context, repoPath string, changedFiles []string) *ChecksReport {
	source := sourceFiles(changedFiles)
	return &ChecksReport{
		Tests:      c.runTests(ctx, repoPath),
		Lint:       c.runLint(ctx, repoPath, source),
		Security:   runSecurityScan(repoPath, source),
		Complexity: c.runComplexity(ctx, repoPath, source),
		FileSizes:  runFileSizeCheck(repoPath, source),
	}
}

func sourceFiles(changed []string) []string {
	var out []string
	for _, f := range changed {
		switch filepath.Ext(f) {
		case ".py", ".go", ".js", ".ts", ".rb", ".java":
			out = append(out, f)
		}
	}
	return out
}

var passedPattern = regexp.MustCompile(`(\d+) passed`)

func (c *Checker) runTests(ctx context.Context, repoPath string) CheckResult {
	name := "tests"
	if _, err := exec.LookPath(c.config.TestCommand[0]); err != nil {
		return CheckResult{Name: name, Status: CheckSkipped,
			Details: c.config.TestCommand[0] + " not installed"}
	}

	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.config.TestCommand[0], c.config.TestCommand[1:]...)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	output := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		return CheckResult{Name: name, Status: CheckFailed,
			Details: fmt.Sprintf("timed out after %s", testTimeout)}
	}
	if err == nil {
		if m := passedPattern.FindStringSubmatch(output); m != nil {
			return CheckResult{Name: name, Status: CheckPassed, Details: m[1] + " passed"}
		}
		return CheckResult{Name: name, Status: CheckPassed}
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == exitNoTestsCollected {
		return CheckResult{Name: name, Status: CheckSkipped, Details: "no tests collected"}
	}
	return CheckResult{Name: name, Status: CheckFailed, Details: tail(output, 2000)}
}

func (c *Checker) runLint(ctx context.Context, repoPath string, files []string) CheckResult {
	name := "lint"
	if len(files) == 0 {
		return CheckResult{Name: name, Status: CheckSkipped, Details: "no source files changed"}
	}
	if _, err := exec.LookPath(c.config.LintCommand[0]); err != nil {
		return CheckResult{Name: name, Status: CheckSkipped,
			Details: c.config.LintCommand[0] + " not installed"}
	}

	args := append(append([]string{}, c.config.LintCommand[1:]...), files...)
	cmd := exec.CommandContext(ctx, c.config.LintCommand[0], args...)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err == nil {
		return CheckResult{Name: name, Status: CheckPassed}
	}

	lines := nonEmptyLines(string(out))
	if len(lines) > maxLintLocations {
		lines = append(lines[:maxLintLocations],
			fmt.Sprintf("... and %d more", len(lines)-maxLintLocations))
	}
	return CheckResult{Name: name, Status: CheckWarning, Details: strings.Join(lines, "\n")}
}

// securityPatterns pairs a regex with the risk it flags. Matches produce a
// WARNING, never a hard failure.
var securityPatterns = []struct {
	pattern     *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`\beval\(`), "eval() call"},
	{regexp.MustCompile(`\bexec\(`), "exec() call"},
	{regexp.MustCompile(`shell\s*=\s*True`), "subprocess with shell=True"},
	{regexp.MustCompile(`os\.system\(`), "os.system() call"},
	{regexp.MustCompile(`pickle\.loads?\(`), "pickle deserialization"},
	{regexp.MustCompile(`(?i)(password|passwd)\s*=\s*["'][^"']+["']`), "hardcoded password"},
	{regexp.MustCompile(`(?i)api_key\s*=\s*["'][^"']+["']`), "hardcoded API key"},
	{regexp.MustCompile(`(?i)secret\s*=\s*["'][^"']+["']`), "hardcoded secret"},
	{regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`), "embedded private key"},
}

func runSecurityScan(repoPath string, files []string) CheckResult {
	name := "security"
	if len(files) == 0 {
		return CheckResult{Name: name, Status: CheckSkipped, Details: "no source files changed"}
	}

	var hits []string
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(repoPath, f))
		if err != nil {
			continue
		}
		for _, p := range securityPatterns {
			if p.pattern.Match(data) {
				hits = append(hits, fmt.Sprintf("%s: %s", f, p.description))
			}
		}
	}
	if len(hits) > 0 {
		return CheckResult{Name: name, Status: CheckWarning, Details: strings.Join(hits, "\n")}
	}
	return CheckResult{Name: name, Status: CheckPassed}
}

// averageGradePattern matches radon's summary line, e.g. "Average complexity: B (5.2)".
var averageGradePattern = regexp.MustCompile(`Average complexity:\s*([A-F])`)

func (c *Checker) runComplexity(ctx context.Context, repoPath string, files []string) CheckResult {
	name := "complexity"
	if len(files) == 0 {
		return CheckResult{Name: name, Status: CheckSkipped, Details: "no source files changed"}
	}
	if _, err := exec.LookPath(c.config.ComplexityCommand[0]); err != nil {
		return CheckResult{Name: name, Status: CheckSkipped,
			Details: c.config.ComplexityCommand[0] + " not installed"}
	}

	args := append(append([]string{}, c.config.ComplexityCommand[1:]...), files...)
	cmd := exec.CommandContext(ctx, c.config.ComplexityCommand[0], args...)
	cmd.Dir = repoPath
	out, _ := cmd.CombinedOutput()

	m := averageGradePattern.FindStringSubmatch(string(out))
	if m == nil {
		return CheckResult{Name: name, Status: CheckSkipped, Details: "no complexity grade reported"}
	}
	return GradeToResult(m[1])
}

// GradeToResult maps a complexity letter grade onto a check verdict.
func GradeToResult(grade string) CheckResult {
	name := "complexity"
	switch grade {
	case "A", "B":
		return CheckResult{Name: name, Status: CheckPassed, Details: "average grade " + grade}
	case "C":
		return CheckResult{Name: name, Status: CheckWarning, Details: "moderate complexity (grade C)"}
	default:
		return CheckResult{Name: name, Status: CheckWarning,
			Details: "high complexity (grade " + grade + ")"}
	}
}

func runFileSizeCheck(repoPath string, files []string) CheckResult {
	name := "file_sizes"
	var flagged []string
	for _, f := range files {
		full := filepath.Join(repoPath, f)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		if info.Size() > maxSourceBytes {
			flagged = append(flagged, fmt.Sprintf("%s: %d KB", f, info.Size()/1024))
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		if lines := strings.Count(string(data), "\n") + 1; lines > maxSourceLines {
			flagged = append(flagged, fmt.Sprintf("%s: %d lines", f, lines))
		}
	}
	if len(flagged) > 0 {
		return CheckResult{Name: name, Status: CheckWarning, Details: strings.Join(flagged, "\n")}
	}
	return CheckResult{Name: name, Status: CheckPassed}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
