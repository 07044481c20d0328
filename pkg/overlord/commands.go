package overlord

import (
	"regexp"
	"strconv"
	"strings"
)

// CommandKind is a parsed operator intent.
type CommandKind string

const (
	CommandStatus  CommandKind = "status"
	CommandWork    CommandKind = "work"
	CommandStop    CommandKind = "stop"
	CommandQueue   CommandKind = "queue"
	CommandPause   CommandKind = "pause"
	CommandResume  CommandKind = "resume"
	CommandHistory CommandKind = "history"
	CommandReview  CommandKind = "review"
	CommandHelp    CommandKind = "help"
	CommandUnknown CommandKind = "unknown"
)

// Command is one parsed operator instruction.
type Command struct {
	Kind CommandKind
	// Repo is owner/name when the command named one, else empty (default repo).
	Repo string
	// Number is the issue or PR number for work/stop/review.
	Number int
	// MinionID targets a specific minion for stop.
	MinionID string
	// Raw preserves the original text for audit entries.
	Raw string
}

var (
	statusPhrases = []string{
		"status", "what's the status", "whats the status", "how's it going",
		"hows it going", "show me status", "what are the minions doing",
	}
	// e.g. "work on acme/widgets#42", "work on #42", "work on 42"
	workPattern = regexp.MustCompile(`^work on\s+(?:([\w.-]+/[\w.-]+))?#?(\d+)$`)
	// e.g. "stop #42", "kill 42", "stop minion-ab12cd34"
	stopNumberPattern = regexp.MustCompile(`^(?:stop|kill)\s+#?(\d+)$`)
	stopMinionPattern = regexp.MustCompile(`^(?:stop|kill)\s+(minion-[0-9a-f]+)$`)
	// e.g. "review acme/widgets#101", "review #101", "check pr #101"
	reviewPattern = regexp.MustCompile(`^(?:review|check pr)\s+(?:([\w.-]+/[\w.-]+))?#?(\d+)$`)
)

// ParseCommand interprets one line of operator text, case-insensitively.
func ParseCommand(text string) Command {
	raw := strings.TrimSpace(text)
	normalized := strings.ToLower(raw)
	cmd := Command{Kind: CommandUnknown, Raw: raw}

	for _, phrase := range statusPhrases {
		if normalized == phrase {
			cmd.Kind = CommandStatus
			return cmd
		}
	}

	switch normalized {
	case "queue":
		cmd.Kind = CommandQueue
		return cmd
	case "pause":
		cmd.Kind = CommandPause
		return cmd
	case "resume":
		cmd.Kind = CommandResume
		return cmd
	case "history":
		cmd.Kind = CommandHistory
		return cmd
	case "help":
		cmd.Kind = CommandHelp
		return cmd
	}

	if m := workPattern.FindStringSubmatch(normalized); m != nil {
		cmd.Kind = CommandWork
		cmd.Repo = m[1]
		cmd.Number, _ = strconv.Atoi(m[2])
		return cmd
	}
	if m := stopMinionPattern.FindStringSubmatch(normalized); m != nil {
		cmd.Kind = CommandStop
		cmd.MinionID = m[1]
		return cmd
	}
	if m := stopNumberPattern.FindStringSubmatch(normalized); m != nil {
		cmd.Kind = CommandStop
		cmd.Number, _ = strconv.Atoi(m[1])
		return cmd
	}
	if m := reviewPattern.FindStringSubmatch(normalized); m != nil {
		cmd.Kind = CommandReview
		cmd.Repo = m[1]
		cmd.Number, _ = strconv.Atoi(m[2])
		return cmd
	}
	return cmd
}

// HelpText lists the operator surface.
const HelpText = `Commands:
  status                 - show active minions
  work on [repo]#N       - dispatch a minion for issue N
  stop #N | stop minion-id - stop the minion working issue N
  queue                  - show the scanned issue queue
  pause / resume         - suspend or resume automatic dispatch
  history                - show recent completed work
  review [repo]#N        - run the review pipeline on PR N
  help                   - this text`
