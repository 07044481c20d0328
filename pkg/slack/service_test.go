package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSlack(t *testing.T) (*Service, *[]string) {
	t.Helper()
	var posted []string

	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = append(posted, r.FormValue("text"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	return NewServiceWithClient(client), &posted
}

func TestNotifyPostsMessage(t *testing.T) {
	svc, posted := newMockSlack(t)
	svc.Notify(context.Background(), "minion-ab12cd34 dispatched for acme/widgets#42")

	require.Len(t, *posted, 1)
	assert.Contains(t, (*posted)[0], "acme/widgets#42")
}

func TestNotifyTruncatesLongMessages(t *testing.T) {
	svc, posted := newMockSlack(t)

	long := make([]byte, slackMaxLen*2)
	for i := range long {
		long[i] = 'x'
	}
	svc.Notify(context.Background(), string(long))

	require.Len(t, *posted, 1)
	assert.LessOrEqual(t, len((*posted)[0]), slackMaxLen+3)
}

func TestNilServiceIsNoOp(t *testing.T) {
	var svc *Service
	// Must not panic.
	svc.Notify(context.Background(), "ignored")
}

func TestNewServiceRequiresTokenAndChannel(t *testing.T) {
	assert.Nil(t, NewService(Config{}))
	assert.Nil(t, NewService(Config{BotToken: "xoxb-test"}))
	assert.Nil(t, NewService(Config{Channel: "C123"}))
	assert.NotNil(t, NewService(Config{BotToken: "xoxb-test", Channel: "C123"}))
}

func TestPostMessageThreads(t *testing.T) {
	var threadTS string
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		threadTS = r.FormValue("thread_ts")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000200"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	ts, err := client.PostMessage(context.Background(), "reply", "1700000000.000100", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000200", ts)
	assert.Equal(t, "1700000000.000100", threadTS)
}
