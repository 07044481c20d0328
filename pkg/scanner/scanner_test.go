package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/githost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mux            *http.ServeMux
	rateLimitCalls atomic.Int64
	remaining      int
	labelUpdates   []map[string]any
	comments       []string
}

func newFakeHost(t *testing.T, remaining int) (*fakeHost, *githost.GitHubClient) {
	t.Helper()
	f := &fakeHost{mux: http.NewServeMux(), remaining: remaining}
	f.mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		f.rateLimitCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"resources": map[string]any{
				"core": map[string]any{
					"limit": 5000, "remaining": f.remaining,
					"reset": time.Now().Add(time.Hour).Unix(),
				},
			},
		})
	})
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, githost.NewGitHubClient("tok").WithBaseURL(srv.URL)
}

func issueJSON(number int, title string, created string, labels ...string) map[string]any {
	labelObjs := make([]map[string]string, len(labels))
	for i, l := range labels {
		labelObjs[i] = map[string]string{"name": l}
	}
	return map[string]any{
		"number": number, "title": title, "state": "open",
		"labels": labelObjs, "created_at": created,
		"user": map[string]string{"login": "alice"},
	}
}

func TestScanQueuePrioritizesAndFilters(t *testing.T) {
	f, client := newFakeHost(t, 5000)
	f.mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		pr := issueJSON(4, "a pr", "2026-01-03T00:00:00Z", "nebulus")
		pr["pull_request"] = map[string]string{"url": "x"}
		json.NewEncoder(w).Encode([]map[string]any{
			issueJSON(1, "old normal", "2026-01-01T00:00:00Z", "nebulus"),
			issueJSON(2, "urgent", "2026-01-02T00:00:00Z", "nebulus", "urgent"),
			issueJSON(3, "claimed", "2026-01-01T00:00:00Z", "nebulus", "nebulus-in-progress"),
			pr,
		})
	})

	cfg := DefaultConfig()
	cfg.WatchedRepos = []string{"acme/widgets"}
	s := New(client, cfg)

	queue, err := s.ScanQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, 2, queue[0].Number, "high priority first")
	assert.Equal(t, 1, queue[0].Priority)
	assert.Equal(t, 1, queue[1].Number)
	assert.Equal(t, 0, queue[1].Priority)
}

func TestScanQueueSortsByAgeWithinPriority(t *testing.T) {
	f, client := newFakeHost(t, 5000)
	f.mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			issueJSON(2, "newer", "2026-02-01T00:00:00Z", "nebulus"),
			issueJSON(1, "older", "2026-01-01T00:00:00Z", "nebulus"),
		})
	})

	cfg := DefaultConfig()
	cfg.WatchedRepos = []string{"acme/widgets"}
	s := New(client, cfg)

	queue, err := s.ScanQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, 1, queue[0].Number)
}

func TestMarkInReviewSwapsLabelAndComments(t *testing.T) {
	f, client := newFakeHost(t, 5000)
	f.mux.HandleFunc("/repos/acme/widgets/issues/42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issueJSON(42, "t", "2026-01-01T00:00:00Z", "nebulus-in-progress", "bug"))
	})
	f.mux.HandleFunc("/repos/acme/widgets/issues/42/labels", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		f.labelUpdates = append(f.labelUpdates, payload)
		w.Write([]byte(`[]`))
	})
	f.mux.HandleFunc("/repos/acme/widgets/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		f.comments = append(f.comments, payload["body"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})

	cfg := DefaultConfig()
	s := New(client, cfg)

	require.NoError(t, s.MarkInReview(context.Background(), "acme/widgets", 42, 101))

	require.Len(t, f.labelUpdates, 1)
	labels := f.labelUpdates[0]["labels"].([]any)
	assert.Contains(t, labels, "nebulus-in-review")
	assert.Contains(t, labels, "bug")
	assert.NotContains(t, labels, "nebulus-in-progress")

	require.Len(t, f.comments, 1)
	assert.Contains(t, f.comments[0], "#101")
}

func TestCanPerformSweepBudget(t *testing.T) {
	_, client := newFakeHost(t, 109)
	cfg := DefaultConfig()
	cfg.WatchedRepos = []string{"a/b", "c/d"} // required = 100 + 5*2 = 110
	s := New(client, cfg)

	assert.False(t, s.CanPerformSweep(context.Background()))

	_, client2 := newFakeHost(t, 110)
	s2 := New(client2, cfg)
	assert.True(t, s2.CanPerformSweep(context.Background()))
}

func TestRateLimitIsCached(t *testing.T) {
	f, client := newFakeHost(t, 5000)
	s := New(client, DefaultConfig())

	for i := 0; i < 5; i++ {
		_, err := s.GetRateLimit(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), f.rateLimitCalls.Load())
}

func TestIsRateLimited(t *testing.T) {
	_, client := newFakeHost(t, 50)
	s := New(client, DefaultConfig())
	assert.True(t, s.IsRateLimited(context.Background()))

	_, client2 := newFakeHost(t, 500)
	s2 := New(client2, DefaultConfig())
	assert.False(t, s2.IsRateLimited(context.Background()))
}

func TestWaitForRateLimitBeyondBudget(t *testing.T) {
	_, client := newFakeHost(t, 10) // resets in ~1h, far beyond wait budget
	s := New(client, DefaultConfig())

	err := s.WaitForRateLimit(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beyond")
}

func TestReplaceLabelDedupes(t *testing.T) {
	out := replaceLabel([]string{"bug", "nebulus", "nebulus-in-progress"},
		"nebulus-in-progress", "nebulus-in-review")
	assert.ElementsMatch(t, []string{"bug", "nebulus", "nebulus-in-review"}, out)

	// Replacing onto an already-present label does not duplicate it.
	out = replaceLabel([]string{"nebulus-in-review"}, "nebulus-in-progress", "nebulus-in-review")
	assert.Equal(t, []string{"nebulus-in-review"}, out)
}
