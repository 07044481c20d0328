package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntFieldToleratesJSONNumbers(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(
		`{"minion_id":"minion-1","event":"complete","issue":42,"data":{"pr_number":101,"branch":"minion/issue-42"}}`,
	), &p))

	pr, ok := IntField(p.Data, "pr_number")
	assert.True(t, ok)
	assert.Equal(t, 101, pr)

	_, ok = IntField(p.Data, "missing")
	assert.False(t, ok)

	_, ok = IntField(p.Data, "branch")
	assert.False(t, ok, "string value is not an int")
}

func TestIntFieldAcceptsNativeInt(t *testing.T) {
	n, ok := IntField(CompleteData(7, "", "minion/issue-7", "", Usage{}), "pr_number")
	assert.True(t, ok)
	assert.Equal(t, 7, n)
}

func TestCompleteDataCarriesUsage(t *testing.T) {
	data := CompleteData(7, "", "minion/issue-7", "",
		Usage{TokensIn: 1000, TokensOut: 200, Model: "claude-sonnet-4"})

	in, ok := IntField(data, "tokens_in")
	assert.True(t, ok)
	assert.Equal(t, 1000, in)
	assert.Equal(t, "claude-sonnet-4", StringField(data, "model"))

	// Runs with no usage report omit the fields entirely.
	assert.NotContains(t, CompleteData(7, "", "minion/issue-7", "", Usage{}), "tokens_in")
}

func TestStringField(t *testing.T) {
	data := ErrorData("timeout", "wall clock exceeded")
	assert.Equal(t, "timeout", StringField(data, "error_type"))
	assert.Equal(t, "wall clock exceeded", StringField(data, "details"))
	assert.Empty(t, StringField(data, "missing"))
	assert.Empty(t, StringField(nil, "error_type"))
}

func TestErrorDataOmitsEmptyDetails(t *testing.T) {
	data := ErrorData("blocked", "")
	assert.NotContains(t, data, "details")
}
