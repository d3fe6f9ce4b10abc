// Package openai adapts OpenAI's chat-completion streaming API to the
// llmio.Provider contract, grounded on the teacher's
// internal/agent/providers/openai.go. Like the Anthropic adapter, tool
// calls here are plain text the model writes and internal/parsing reads
// back out (spec.md section 4.6); no native OpenAI tool-calling fields
// are populated.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cluderun/agentcore/internal/llmio"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// DefaultModel is used when a CompletionRequest leaves Model empty.
const DefaultModel = "gpt-4o"

// Provider implements llmio.Provider against OpenAI's chat-completion API.
type Provider struct {
	client       *openai.Client
	defaultModel string
}

// New constructs a Provider. Returns an error if apiKey is empty.
func New(apiKey, defaultModel string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &Provider{client: openai.NewClient(apiKey), defaultModel: defaultModel}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// Complete opens a streaming chat completion and emits one
// CompletionChunk per text delta.
func (p *Provider) Complete(ctx context.Context, req llmio.CompletionRequest) (<-chan llmio.CompletionChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: convertMessages(req.System, req.Messages),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	out := make(chan llmio.CompletionChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					out <- llmio.CompletionChunk{Done: true}
					return
				}
				out <- llmio.CompletionChunk{Err: err, Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				out <- llmio.CompletionChunk{Text: delta}
			}
			if resp.Choices[0].FinishReason != "" {
				out <- llmio.CompletionChunk{Done: true}
				return
			}
		}
	}()

	return out, nil
}

// convertMessages renders system + ChatMessages into OpenAI's flat
// role/content message list, folding tool results into a user-role text
// block since this adapter has no native tool-result message type in
// play (see the package doc comment).
func convertMessages(system string, messages []coremodels.ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
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
		role := openai.ChatMessageRoleUser
		if msg.Role == coremodels.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return result
}

func renderToolResults(results []coremodels.ToolResult) string {
	b, err := json.Marshal(results)
	if err != nil {
		return ""
	}
	return string(b)
}
