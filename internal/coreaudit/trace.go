package coreaudit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// secretPatterns is the redaction rule-set TraceRecorder.Emit applies to
// TurnEvent payloads before they reach the trace log (a string payload,
// or the top-level string values of a map payload), mirroring
// internal/agent/tool_result_guard.go's builtinSecretPatterns.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{10,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.=]+`),
	regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{10,}`),
}

// Redact replaces every secret-pattern match in s with a fixed marker.
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// TraceRecorder is an append-only JSONL writer of the full TurnEvent
// stream, one line per event, used for per-turn replay (spec.md section
// 6's Trace log). It implements internal/statemachine.Sink.
type TraceRecorder struct {
	mu sync.Mutex
	w  *bufio.Writer
	f  *os.File
}

// NewTraceRecorder opens path for append and wraps it in a buffered
// writer.
func NewTraceRecorder(path string) (*TraceRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace log %s: %w", path, err)
	}
	return &TraceRecorder{w: bufio.NewWriter(f), f: f}, nil
}

// Emit implements internal/statemachine.Sink: it redacts secrets in a
// string payload or in the top-level string values of a map payload
// (nested values are written as they are) and appends one JSON line.
func (t *TraceRecorder) Emit(_ context.Context, e coremodels.TurnEvent) {
	switch p := e.Payload.(type) {
	case string:
		e.Payload = Redact(p)
	case map[string]any:
		redacted := make(map[string]any, len(p))
		for k, v := range p {
			if s, ok := v.(string); ok {
				v = Redact(s)
			}
			redacted[k] = v
		}
		e.Payload = redacted
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Write(raw)
	t.w.WriteByte('\n')
}

// Flush pushes buffered bytes to the underlying file.
func (t *TraceRecorder) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Flush()
}

// Close flushes and closes the underlying file.
func (t *TraceRecorder) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	return t.f.Close()
}

// ReadTrace reads every TurnEvent from path in order, used by replay
// tooling and tests asserting the end-to-end scenarios in spec.md
// section 8.
func ReadTrace(path string) ([]coremodels.TurnEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace log %s: %w", path, err)
	}
	defer f.Close()

	var events []coremodels.TurnEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e coremodels.TurnEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decode trace event: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
