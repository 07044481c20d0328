package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu       sync.Mutex
	payloads []events.Payload
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	var p events.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *capture) all() []events.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func newTestReporter(t *testing.T, url string) *Reporter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinionID = "minion-test0001"
	cfg.IssueNumber = 42
	cfg.CallbackURL = url
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollTimeout = 200 * time.Millisecond
	return New(cfg)
}

func TestCompleteEventShape(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	r := newTestReporter(t, srv.URL+"/callback")
	r.Complete(context.Background(), 101, "https://example.test/pr/101", "minion/issue-42", "looks good",
		events.Usage{TokensIn: 12000, TokensOut: 3000, Model: "claude-sonnet-4"})

	payloads := cap.all()
	require.Len(t, payloads, 1)
	p := payloads[0]
	assert.Equal(t, "minion-test0001", p.MinionID)
	assert.Equal(t, events.TypeComplete, p.Event)
	assert.Equal(t, 42, p.Issue)
	n, ok := events.IntField(p.Data, "pr_number")
	require.True(t, ok)
	assert.Equal(t, 101, n)
	assert.Equal(t, "minion/issue-42", events.StringField(p.Data, "branch"))
	tokens, ok := events.IntField(p.Data, "tokens_in")
	require.True(t, ok)
	assert.Equal(t, 12000, tokens)
	assert.Equal(t, "claude-sonnet-4", events.StringField(p.Data, "model"))
	assert.False(t, p.Timestamp.IsZero())
}

func TestErrorAndQuestionEvents(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	r := newTestReporter(t, srv.URL+"/callback")
	r.Error(context.Background(), "timeout", "wall clock exceeded")
	r.Question(context.Background(), "which key?", "missing_info", "q-1")

	payloads := cap.all()
	require.Len(t, payloads, 2)
	assert.Equal(t, "timeout", events.StringField(payloads[0].Data, "error_type"))
	assert.Equal(t, events.TypeQuestion, payloads[1].Event)
	assert.Equal(t, "q-1", events.StringField(payloads[1].Data, "question_id"))
}

func TestDeliveryIsBestEffort(t *testing.T) {
	// No server listening: sends must not panic or block.
	r := newTestReporter(t, "http://127.0.0.1:1/callback")

	done := make(chan struct{})
	go func() {
		r.Progress(context.Background(), "still working")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("best-effort send blocked")
	}
}

func TestAnswerURLDerivation(t *testing.T) {
	u, err := AnswerURL("http://overlord:8080/api/v1/callback", "minion-abc")
	require.NoError(t, err)
	assert.Equal(t, "http://overlord:8080/api/v1/answer/minion-abc", u)
}

func TestPollAnswerReturnsWhenAnswered(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		assert.Equal(t, "/answer/minion-test0001", r.URL.Path)
		assert.Equal(t, "q-7", r.URL.Query().Get("question_id"))
		reply := events.AnswerReply{}
		if n >= 3 {
			reply = events.AnswerReply{Answered: true, Answer: "use staging"}
		}
		json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	r := newTestReporter(t, srv.URL+"/callback")
	answer, err := r.PollAnswer(context.Background(), "q-7")
	require.NoError(t, err)
	assert.Equal(t, "use staging", answer)
}

func TestPollAnswerTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(events.AnswerReply{Answered: false})
	}))
	defer srv.Close()

	r := newTestReporter(t, srv.URL+"/callback")
	_, err := r.PollAnswer(context.Background(), "q-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no answer")
}

func TestHeartbeatEmitsUntilCancelled(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MinionID = "minion-test0001"
	cfg.CallbackURL = srv.URL + "/callback"
	cfg.HeartbeatInterval = 20 * time.Millisecond
	r := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	r.StartHeartbeat(ctx)
	time.Sleep(90 * time.Millisecond)
	cancel()

	beats := len(cap.all())
	assert.GreaterOrEqual(t, beats, 2)

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(cap.all()), beats+1)
}
