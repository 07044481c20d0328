package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolTimeout is returned when a slot cannot be acquired within the
// configured acquire timeout.
var ErrPoolTimeout = fmt.Errorf("llm pool: slot acquire timed out")

// PoolConfig configures the process-wide request pool.
type PoolConfig struct {
	// MaxConcurrent bounds simultaneous in-flight requests.
	MaxConcurrent int `yaml:"max_concurrent"`
	// AcquireTimeout bounds how long a caller blocks waiting for a slot.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// DefaultPoolConfig returns the built-in pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrent:  2,
		AcquireTimeout: 60 * time.Second,
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalRequests int64 `json:"total_requests"`
	TotalErrors   int64 `json:"total_errors"`
	TotalRetries  int64 `json:"total_retries"`
}

// Pool wraps a Client with a bounded concurrency gate. Every request acquires
// a slot and releases it on completion, error, or timeout. The release is
// paired with the acquire in all paths.
type Pool struct {
	backend Client
	sem     *semaphore.Weighted
	cfg     PoolConfig

	mu      sync.Mutex
	active  int
	waiting int

	totalRequests atomic.Int64
	totalErrors   atomic.Int64
	totalRetries  atomic.Int64
}

// NewPool creates a pool over the given backend.
func NewPool(backend Client, cfg PoolConfig) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultPoolConfig().MaxConcurrent
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultPoolConfig().AcquireTimeout
	}
	return &Pool{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:     cfg,
	}
}

// Chat acquires a slot and forwards to the backend.
func (p *Pool) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	p.totalRequests.Add(1)
	resp, err := p.backend.Chat(ctx, messages, tools)
	if err != nil {
		p.totalErrors.Add(1)
		return nil, err
	}
	return resp, nil
}

// ChatStream acquires a slot for the lifetime of the stream. The slot is
// released when the backend closes its channel.
func (p *Pool) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	p.totalRequests.Add(1)
	inner, err := p.backend.ChatStream(ctx, messages, tools)
	if err != nil {
		p.totalErrors.Add(1)
		release()
		return nil, err
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer release()
		for chunk := range inner {
			if chunk.Err != nil {
				p.totalErrors.Add(1)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ModelID forwards to the backend.
func (p *Pool) ModelID() string { return p.backend.ModelID() }

// RecordRetry bumps the retry counter. Callers that re-issue a failed request
// report it here so the stats reflect retry pressure.
func (p *Pool) RecordRetry() { p.totalRetries.Add(1) }

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	active, waiting := p.active, p.waiting
	p.mu.Unlock()
	return PoolStats{
		Active:        active,
		Waiting:       waiting,
		TotalRequests: p.totalRequests.Load(),
		TotalErrors:   p.totalErrors.Load(),
		TotalRetries:  p.totalRetries.Load(),
	}
}

// acquire blocks for a slot up to the acquire timeout. The returned release
// function is idempotent-free and must be called exactly once.
func (p *Pool) acquire(ctx context.Context) (func(), error) {
	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	err := p.sem.Acquire(acquireCtx, 1)

	p.mu.Lock()
	p.waiting--
	if err == nil {
		p.active++
	}
	p.mu.Unlock()

	if err != nil {
		p.totalErrors.Add(1)
		if acquireCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, ErrPoolTimeout
		}
		return nil, fmt.Errorf("llm pool: acquire: %w", err)
	}

	return func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.sem.Release(1)
	}, nil
}
