package overlord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{"status", "status", Command{Kind: CommandStatus}},
		{"status phrase", "What's the status", Command{Kind: CommandStatus}},
		{"status phrase no apostrophe", "whats the status", Command{Kind: CommandStatus}},
		{"status casual", "what are the minions doing", Command{Kind: CommandStatus}},
		{"work with repo", "work on acme/widgets#42", Command{Kind: CommandWork, Repo: "acme/widgets", Number: 42}},
		{"work default repo", "work on #42", Command{Kind: CommandWork, Number: 42}},
		{"work bare number", "work on 42", Command{Kind: CommandWork, Number: 42}},
		{"work uppercase", "WORK ON #7", Command{Kind: CommandWork, Number: 7}},
		{"stop by number", "stop #42", Command{Kind: CommandStop, Number: 42}},
		{"kill by number", "kill 42", Command{Kind: CommandStop, Number: 42}},
		{"stop by minion id", "stop minion-ab12cd34", Command{Kind: CommandStop, MinionID: "minion-ab12cd34"}},
		{"queue", "queue", Command{Kind: CommandQueue}},
		{"pause", "pause", Command{Kind: CommandPause}},
		{"resume", "resume", Command{Kind: CommandResume}},
		{"history", "history", Command{Kind: CommandHistory}},
		{"review", "review #101", Command{Kind: CommandReview, Number: 101}},
		{"review with repo", "review acme/widgets#101", Command{Kind: CommandReview, Repo: "acme/widgets", Number: 101}},
		{"check pr", "check pr #101", Command{Kind: CommandReview, Number: 101}},
		{"help", "help", Command{Kind: CommandHelp}},
		{"unknown", "make me a sandwich", Command{Kind: CommandUnknown}},
		{"whitespace trimmed", "  status  ", Command{Kind: CommandStatus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommand(tt.text)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Repo, got.Repo)
			assert.Equal(t, tt.want.Number, got.Number)
			assert.Equal(t, tt.want.MinionID, got.MinionID)
		})
	}
}

func TestParseCommandPreservesRaw(t *testing.T) {
	got := ParseCommand("  Work on acme/widgets#42  ")
	assert.Equal(t, "Work on acme/widgets#42", got.Raw)
	assert.Equal(t, CommandWork, got.Kind)
}
