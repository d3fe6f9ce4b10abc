package llmio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cluderun/agentcore/internal/backoff"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// EventEmitter is the minimal collaborator Chat writes llm_request/
// llm_response/llm_error TurnEvents into; internal/statemachine.Bus
// implements it.
type EventEmitter interface {
	Emit(kind coremodels.EventKind, stepID string, payload any)
}

type noopEmitter struct{}

func (noopEmitter) Emit(coremodels.EventKind, string, any) {}

// Budgeter is the minimal collaborator Chat asks to trim history before
// a request would exceed the usable context window;
// internal/contextbudget.Budgeter implements the relevant methods.
type Budgeter interface {
	ShouldTrim(msgs []coremodels.ChatMessage) bool
	EstimateTokens(msgs []coremodels.ChatMessage) int
}

// ErrorKind classifies an llm_error event's cause (spec.md section 4.5).
type ErrorKind string

const (
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindRepetition ErrorKind = "repetition"
	ErrorKindProtocol   ErrorKind = "protocol"
)

// LLMError wraps a chat failure with its classification, used by callers
// to decide whether the turn can be retried at a higher level (spec.md
// section 7: "Errors from the LLM I/O layer ... terminate the turn if
// they exhaust retries").
type LLMError struct {
	Kind ErrorKind
	Err  error
}

func (e *LLMError) Error() string { return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err) }
func (e *LLMError) Unwrap() error { return e.Err }

// Config bounds one Chat call, mirroring spec.md section 5's fuses:
// max_llm_output_tokens (default 1024, ceiling 8192),
// max_llm_retries_on_transport (default 2), and a wall-clock timeout.
type Config struct {
	Model              string
	MaxOutputTokens    int
	MaxRetriesOnError  int
	Timeout            time.Duration
	Repetition         RepetitionConfig
	RequestPreviewChars int
}

// DefaultConfig matches spec.md section 5's stated defaults.
func DefaultConfig(model string) Config {
	return Config{
		Model:               model,
		MaxOutputTokens:     1024,
		MaxRetriesOnError:   2,
		Timeout:             60 * time.Second,
		Repetition:          DefaultRepetitionConfig(),
		RequestPreviewChars: 200,
	}
}

const maxOutputTokensCeiling = 8192

// Chat is the single chokepoint for model calls named in spec.md section
// 4.5: it normalizes the transcript, asks budgeter to trim if needed,
// calls provider with bounded max_tokens and a wall-clock timeout,
// detects pathological output, and emits llm_request/llm_response/
// llm_error events. It never retries on repetition or protocol errors —
// only on transport failures, up to cfg.MaxRetriesOnError times with
// exponential backoff (spec.md section 4.5 step 7).
func Chat(ctx context.Context, provider Provider, cfg Config, system string, history []coremodels.ChatMessage, tools []coremodels.ToolSpec, budgeter Budgeter, events EventEmitter) (string, error) {
	if events == nil {
		events = noopEmitter{}
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if maxTokens > maxOutputTokensCeiling {
		maxTokens = maxOutputTokensCeiling
	}

	normalized := NormalizeMessages(history)
	if budgeter != nil && budgeter.ShouldTrim(normalized) {
		normalized = trimNaive(normalized)
	}

	req := CompletionRequest{
		Model:     cfg.Model,
		System:    system,
		Messages:  normalized,
		Tools:     tools,
		MaxTokens: maxTokens,
	}

	events.Emit(coremodels.EventLLMRequest, "", map[string]any{
		"model":        cfg.Model,
		"message_count": len(normalized),
		"preview":      previewText(lastUserText(normalized), cfg.RequestPreviewChars),
	})

	retries := cfg.MaxRetriesOnError
	if retries < 0 {
		retries = 0
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	result, err := backoff.RetryWithBackoff(ctx, backoff.DefaultPolicy(), retries+1, func(attempt int) (string, error) {
		return callOnce(ctx, provider, req, timeout)
	})
	if err != nil {
		kind := ErrorKindTransport
		cause := err
		if errors.Is(result.LastError, context.DeadlineExceeded) {
			kind = ErrorKindTimeout
			cause = result.LastError
		} else if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrorKindTimeout
		}
		events.Emit(coremodels.EventLLMError, "", map[string]any{"kind": string(kind), "attempts": result.Attempts})
		return "", &LLMError{Kind: kind, Err: cause}
	}

	text := result.Value
	if DetectRepetition(text, cfg.Repetition) {
		truncated := TruncateAt(text, cfg.Repetition.MinChars)
		events.Emit(coremodels.EventLLMError, "", map[string]any{"kind": string(ErrorKindRepetition)})
		return truncated, &LLMError{Kind: ErrorKindRepetition, Err: fmt.Errorf("pathological repetitive output detected and truncated")}
	}

	events.Emit(coremodels.EventLLMResponse, "", map[string]any{
		"length":  len(text),
		"preview": previewText(text, cfg.RequestPreviewChars),
	})
	return text, nil
}

// callOnce issues one completion request against provider, bounded by
// timeout, and accumulates the streamed chunks into a single string.
func callOnce(ctx context.Context, provider Provider, req CompletionRequest, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := provider.Complete(cctx, req)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", provider.Name(), err)
	}

	var text string
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return text, nil
			}
			if chunk.Err != nil {
				return "", chunk.Err
			}
			text += chunk.Text
			if chunk.Done {
				return text, nil
			}
		case <-cctx.Done():
			return "", cctx.Err()
		}
	}
}

// trimNaive drops the oldest non-system messages down to a bounded
// tail when the caller did not wire a full contextbudget.Budgeter.Trim
// (which needs priority tagging internal to the orchestrator). This is
// a minimal fallback ensuring Chat never sends an unbounded transcript
// even when used standalone.
func trimNaive(msgs []coremodels.ChatMessage) []coremodels.ChatMessage {
	const keepTail = 20
	if len(msgs) <= keepTail+1 {
		return msgs
	}
	out := make([]coremodels.ChatMessage, 0, keepTail+1)
	if msgs[0].Role == coremodels.RoleSystem {
		out = append(out, msgs[0])
	}
	tailStart := len(msgs) - keepTail
	out = append(out, msgs[tailStart:]...)
	return NormalizeMessages(out)
}

func lastUserText(msgs []coremodels.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == coremodels.RoleUser {
			return msgs[i].Text()
		}
	}
	return ""
}

func previewText(s string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 200
	}
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "..."
}
