// Package anthropic adapts the Anthropic Messages API to the
// llmio.Provider contract, grounded on the teacher's
// internal/agent/providers/anthropic.go. Tool calls in this core are a
// textual contract parsed by internal/parsing (spec.md section 4.6), not
// the backend's native tool_use blocks, so this adapter never populates
// MessageNewParams.Tools — the tool manifest reaches the model through
// the system prompt, and the model's response is plain streamed text.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cluderun/agentcore/internal/llmio"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// DefaultModel is used when a CompletionRequest leaves Model empty.
const DefaultModel = "claude-sonnet-4-20250514"

// Provider implements llmio.Provider against the Anthropic Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
}

// New constructs a Provider. Returns an error if APIKey is empty.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...), defaultModel: model}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// Complete streams a completion, converting ChatMessages to Anthropic's
// content-block message format and emitting one CompletionChunk per
// text delta, matching llmio.Provider's contract.
func (p *Provider) Complete(ctx context.Context, req llmio.CompletionRequest) (<-chan llmio.CompletionChunk, error) {
	messages := convertMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan llmio.CompletionChunk)

	go func() {
		defer close(out)
		var inputTokens, outputTokens int
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				if ms.Message.Usage.InputTokens > 0 {
					inputTokens = int(ms.Message.Usage.InputTokens)
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					out <- llmio.CompletionChunk{Text: delta.Text}
				}
			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					outputTokens = int(md.Usage.OutputTokens)
				}
			case "message_stop":
				out <- llmio.CompletionChunk{Done: true, Usage: &llmio.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- llmio.CompletionChunk{Err: fmt.Errorf("anthropic: %w", err), Done: true}
		}
	}()

	return out, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

// convertMessages renders ChatMessages into Anthropic's content-block
// message shape. Tool calls/results ride as plain text rather than
// native tool_use/tool_result blocks, per this package's doc comment.
func convertMessages(messages []coremodels.ChatMessage) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == coremodels.RoleSystem {
			continue
		}
		text := msg.Text()
		if text == "" && len(msg.ToolResults) > 0 {
			text = renderToolResults(msg.ToolResults)
		}
		if text == "" {
			continue
		}
		block := anthropic.NewTextBlock(text)
		if msg.Role == coremodels.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

// renderToolResults serializes tool results as a JSON text block, since
// this adapter carries them as text rather than native tool_result
// content blocks.
func renderToolResults(results []coremodels.ToolResult) string {
	b, err := json.Marshal(results)
	if err != nil {
		return ""
	}
	return string(b)
}
