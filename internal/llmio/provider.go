// Package llmio is the single chokepoint for model calls: it normalizes
// and repairs message sequences, accounts tokens against the context
// budget, calls the backend with bounded output, detects pathological
// output, and emits the llm_request/llm_response/llm_error events
// (spec.md section 4.5).
package llmio

import (
	"context"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Provider is the contract an LLM backend adapter satisfies. It mirrors
// internal/agent/provider_types.go's LLMProvider interface: implementations
// must be safe for concurrent use since multiple sessions may call the
// same provider instance in parallel (spec.md section 5).
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
	Name() string
}

// CompletionRequest is the chat-completion contract's request shape
// (spec.md section 6): model, messages, and a hard max_tokens ceiling.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []coremodels.ChatMessage
	Tools       []coremodels.ToolSpec
	Temperature float64
	MaxTokens   int
}

// CompletionChunk is one piece of a streamed completion. Text chunks
// accumulate into the final response text; Done marks stream end; Err
// carries a transport-level failure.
type CompletionChunk struct {
	Text  string
	Done  bool
	Err   error
	Usage *Usage
}

// Usage is the backend's reported token accounting, when available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
