// Package coreaudit implements the Audit and Trace recorders (spec.md
// sections 4, 6): an append-only JSONL audit log keyed by trace_id
// recording tool-call digests, and a JSONL trace log replaying the full
// TurnEvent stream.
package coreaudit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ToolCallRecord is one line of the audit log: spec.md section 4.3 step
// 5's "{trace_id, tool, args_digest, result_digest, duration_ms}".
type ToolCallRecord struct {
	ID           string    `json:"id"`
	TraceID      string    `json:"trace_id"`
	Tool         string    `json:"tool"`
	ArgsDigest   string    `json:"args_digest"`
	ResultDigest string    `json:"result_digest"`
	DurationMS   int64     `json:"duration_ms"`
	OK           bool      `json:"ok"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config bounds the Logger's buffering/async-write behavior, mirroring
// internal/audit/logger.go's Config.
type Config struct {
	Path          string
	BufferSize    int
	FlushInterval time.Duration
}

// DefaultConfig matches the teacher's own buffered-writer defaults.
func DefaultConfig(path string) Config {
	return Config{Path: path, BufferSize: 256, FlushInterval: time.Second}
}

// Logger is the append-only, buffered JSONL audit writer. It satisfies
// internal/toolkit.Auditor.
type Logger struct {
	cfg    Config
	file   *os.File
	mu     sync.Mutex
	buf    []ToolCallRecord
	closed bool
	done   chan struct{}
	slog   *slog.Logger
}

// NewLogger opens (creating if needed) cfg.Path for append and starts the
// buffered writer goroutine.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", cfg.Path, err)
	}
	l := &Logger{
		cfg:  cfg,
		file: f,
		done: make(chan struct{}),
		slog: slog.Default().With("component", "coreaudit"),
	}
	go l.writeLoop()
	return l, nil
}

// RecordToolCall implements internal/toolkit.Auditor: it appends a
// ToolCallRecord with digests rather than raw payloads, keeping the log
// bounded and never storing secrets twice (spec.md section 4.3 step 5).
func (l *Logger) RecordToolCall(traceID, tool, argsDigest, resultDigest string, durationMS int64, ok bool) {
	rec := ToolCallRecord{
		ID:           uuid.NewString(),
		TraceID:      traceID,
		Tool:         tool,
		ArgsDigest:   argsDigest,
		ResultDigest: resultDigest,
		DurationMS:   durationMS,
		OK:           ok,
		Timestamp:    time.Now(),
	}
	l.mu.Lock()
	l.buf = append(l.buf, rec)
	full := len(l.buf) >= l.cfg.BufferSize
	l.mu.Unlock()
	if full {
		l.flush()
	}
}

func (l *Logger) writeLoop() {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-l.done:
			l.flush()
			return
		}
	}
}

func (l *Logger) flush() {
	l.mu.Lock()
	pending := l.buf
	l.buf = nil
	l.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	for _, rec := range pending {
		raw, err := json.Marshal(rec)
		if err != nil {
			l.slog.Error("marshal audit record", "err", err)
			continue
		}
		if _, err := l.file.Write(append(raw, '\n')); err != nil {
			l.slog.Error("write audit record", "err", err)
		}
	}
}

// Close flushes any buffered records and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.done)
	return l.file.Close()
}

// HashInput hashes s with sha256 for privacy-preserving logging, used
// whenever a raw user/tool payload must be fingerprinted rather than
// stored verbatim, mirroring internal/audit/logger.go's hashString.
func HashInput(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
