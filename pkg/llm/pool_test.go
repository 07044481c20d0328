package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingClient is a fake backend whose Chat blocks until released.
type blockingClient struct {
	mu      sync.Mutex
	inCall  int
	maxSeen int
	release chan struct{}
	fail    bool
}

func newBlockingClient() *blockingClient {
	return &blockingClient{release: make(chan struct{})}
}

func (f *blockingClient) Chat(ctx context.Context, _ []Message, _ []ToolDefinition) (*Response, error) {
	f.mu.Lock()
	f.inCall++
	if f.inCall > f.maxSeen {
		f.maxSeen = f.inCall
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inCall--
		f.mu.Unlock()
	}()

	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.fail {
		return nil, assert.AnError
	}
	return &Response{Content: "ok", FinishReason: "stop"}, nil
}

func (f *blockingClient) ChatStream(ctx context.Context, m []Message, t []ToolDefinition) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 1)
	resp, err := f.Chat(ctx, m, t)
	if err != nil {
		return nil, err
	}
	out <- StreamChunk{ContentDelta: resp.Content, FinishReason: resp.FinishReason}
	close(out)
	return out, nil
}

func (f *blockingClient) ModelID() string { return "fake-model" }

func TestPoolBoundsConcurrency(t *testing.T) {
	backend := newBlockingClient()
	pool := NewPool(backend, PoolConfig{MaxConcurrent: 2, AcquireTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Chat(context.Background(), nil, nil)
		}()
	}

	// Let goroutines queue up, then release all calls.
	time.Sleep(100 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.LessOrEqual(t, backend.maxSeen, 2)
	assert.Equal(t, int64(6), pool.Stats().TotalRequests)
}

func TestPoolAcquireTimeout(t *testing.T) {
	backend := newBlockingClient()
	pool := NewPool(backend, PoolConfig{MaxConcurrent: 1, AcquireTimeout: 50 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		_, _ = pool.Chat(context.Background(), nil, nil)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond) // first call now holds the only slot

	_, err := pool.Chat(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrPoolTimeout)

	close(backend.release)
	<-done

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Waiting)
}

func TestPoolReleasesSlotOnError(t *testing.T) {
	backend := newBlockingClient()
	backend.fail = true
	close(backend.release)
	pool := NewPool(backend, PoolConfig{MaxConcurrent: 1, AcquireTimeout: time.Second})

	for i := 0; i < 3; i++ {
		_, err := pool.Chat(context.Background(), nil, nil)
		require.Error(t, err)
	}

	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.TotalErrors)
	assert.Equal(t, 0, stats.Active)
}

func TestRecordRetry(t *testing.T) {
	pool := NewPool(newBlockingClient(), DefaultPoolConfig())
	pool.RecordRetry()
	pool.RecordRetry()
	assert.Equal(t, int64(2), pool.Stats().TotalRetries)
}
