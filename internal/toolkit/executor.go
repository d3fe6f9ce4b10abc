package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ExecutorConfig bounds dispatch concurrency, timeouts, and retries,
// mirroring internal/agent/executor.go's ExecutorConfig.
type ExecutorConfig struct {
	MaxConcurrency  int
	DefaultTimeout  time.Duration
	DefaultRetries  int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig matches the teacher's defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ExecutorMetrics is an atomically-updated snapshot of dispatch activity
// (SPEC_FULL section 12). It counts handler dispatches only; replans and
// per-step tool-call limits are not counted here.
type ExecutorMetrics struct {
	Executions int64
	Retries    int64
	Failures   int64
	Timeouts   int64
	Panics     int64
}

// ExecutorMetricsSnapshot is a point-in-time copy of ExecutorMetrics.
type ExecutorMetricsSnapshot struct {
	Executions, Retries, Failures, Timeouts, Panics int64
}

// Executor runs ToolSpec handlers with bounded concurrency, retries, and
// per-call wall-clock timeouts (spec.md section 5's per-call timeout
// fuse).
type Executor struct {
	cfg     ExecutorConfig
	sem     chan struct{}
	metrics ExecutorMetrics
}

// NewExecutor constructs an Executor, filling zero-valued concurrency,
// timeout and backoff fields from DefaultExecutorConfig. DefaultRetries
// is kept as given, so zero means no retries.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	return &Executor{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrency)}
}

// ExecutionResult is the outcome of one handler dispatch.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     coremodels.ToolResult
	Err        error
	Duration   time.Duration
	Attempts   int
}

// Execute runs one ToolSpec's handler against validatedArgs with the
// configured timeout and retry policy. It never panics: a handler panic
// is recovered and converted into a ToolError.
func (e *Executor) Execute(ctx context.Context, spec coremodels.ToolSpec, callID string, validatedArgs json.RawMessage) ExecutionResult {
	start := time.Now()
	retries := e.cfg.DefaultRetries
	backoff := e.cfg.RetryBackoff

	var last ExecutionResult
	for attempt := 1; attempt <= retries+1; attempt++ {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return ExecutionResult{ToolCallID: callID, ToolName: spec.Name, Err: ctx.Err(), Duration: time.Since(start), Attempts: attempt - 1}
		}
		result, err := e.executeWithTimeout(ctx, spec, validatedArgs)
		<-e.sem

		atomic.AddInt64(&e.metrics.Executions, 1)
		last = ExecutionResult{ToolCallID: callID, ToolName: spec.Name, Result: result, Err: err, Duration: time.Since(start), Attempts: attempt}

		if err == nil {
			return last
		}
		if !IsToolRetryable(err) || attempt > retries {
			atomic.AddInt64(&e.metrics.Failures, 1)
			return last
		}
		atomic.AddInt64(&e.metrics.Retries, 1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			last.Err = ctx.Err()
			return last
		}
		backoff *= 2
		if backoff > e.cfg.MaxRetryBackoff {
			backoff = e.cfg.MaxRetryBackoff
		}
	}
	return last
}

// executeWithTimeout runs handler in its own goroutine under a
// context.WithTimeout, recovering a panic into ErrToolPanic, mirroring
// internal/agent/executor.go's executeWithTimeout.
func (e *Executor) executeWithTimeout(ctx context.Context, spec coremodels.ToolSpec, args json.RawMessage) (result coremodels.ToolResult, err error) {
	timeout := e.cfg.DefaultTimeout
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result coremodels.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&e.metrics.Panics, 1)
				done <- outcome{err: fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, debug.Stack())}
			}
		}()
		if spec.Handler == nil {
			done <- outcome{err: ErrToolNotFound}
			return
		}
		toolCtx := coremodels.ToolCtx{Done: cctx.Done()}
		res, err := spec.Handler(toolCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-cctx.Done():
		atomic.AddInt64(&e.metrics.Timeouts, 1)
		return coremodels.ToolResult{}, ErrToolTimeout
	}
}

// ExecuteAll runs calls concurrently (bounded by MaxConcurrency),
// preserving input order in the returned slice.
func (e *Executor) ExecuteAll(ctx context.Context, specs []coremodels.ToolSpec, callIDs []string, argsList []json.RawMessage) []ExecutionResult {
	n := len(specs)
	results := make([]ExecutionResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = e.Execute(ctx, specs[i], callIDs[i], argsList[i])
		}()
	}
	wg.Wait()
	return results
}

// Metrics returns a point-in-time snapshot.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	return ExecutorMetricsSnapshot{
		Executions: atomic.LoadInt64(&e.metrics.Executions),
		Retries:    atomic.LoadInt64(&e.metrics.Retries),
		Failures:   atomic.LoadInt64(&e.metrics.Failures),
		Timeouts:   atomic.LoadInt64(&e.metrics.Timeouts),
		Panics:     atomic.LoadInt64(&e.metrics.Panics),
	}
}
