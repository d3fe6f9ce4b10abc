package llmio

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

type recordingEmitter struct {
	events []coremodels.EventKind
}

func (r *recordingEmitter) Emit(kind coremodels.EventKind, _ string, _ any) {
	r.events = append(r.events, kind)
}

type scriptedProvider struct {
	calls   int32
	failN   int32 // number of leading calls that fail with a transport error
	text    string
	timeout bool // if true, every call blocks until ctx is done
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	n := atomic.AddInt32(&p.calls, 1)
	ch := make(chan CompletionChunk, 2)
	if p.timeout {
		go func() {
			<-ctx.Done()
		}()
		return ch, nil
	}
	if n <= p.failN {
		close(ch)
		return ch, errors.New("connection reset")
	}
	go func() {
		ch <- CompletionChunk{Text: p.text}
		ch <- CompletionChunk{Done: true}
		close(ch)
	}()
	return ch, nil
}

func TestChatSucceedsOnFirstAttempt(t *testing.T) {
	p := &scriptedProvider{text: "hello there"}
	emitter := &recordingEmitter{}
	cfg := DefaultConfig("test-model")

	got, err := Chat(context.Background(), p, cfg, "be nice", []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "hi"},
	}, nil, nil, emitter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("got %q", got)
	}
	if len(emitter.events) != 2 || emitter.events[0] != coremodels.EventLLMRequest || emitter.events[1] != coremodels.EventLLMResponse {
		t.Fatalf("unexpected events: %v", emitter.events)
	}
}

func TestChatRetriesTransportErrorsThenSucceeds(t *testing.T) {
	p := &scriptedProvider{text: "recovered", failN: 1}
	cfg := DefaultConfig("test-model")
	cfg.MaxRetriesOnError = 2

	got, err := Chat(context.Background(), p, cfg, "", []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "hi"},
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("got %q", got)
	}
	if p.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", p.calls)
	}
}

func TestChatExhaustsRetriesAndReturnsTransportError(t *testing.T) {
	p := &scriptedProvider{failN: 100}
	cfg := DefaultConfig("test-model")
	cfg.MaxRetriesOnError = 1

	_, err := Chat(context.Background(), p, cfg, "", []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "hi"},
	}, nil, nil, nil)
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *LLMError, got %v", err)
	}
	if llmErr.Kind != ErrorKindTransport {
		t.Fatalf("expected transport kind, got %v", llmErr.Kind)
	}
	if p.calls != 2 {
		t.Fatalf("expected 2 attempts (maxRetriesOnError=1 means 2 attempts), got %d", p.calls)
	}
}

func TestChatTimesOutWhenProviderNeverResponds(t *testing.T) {
	p := &scriptedProvider{timeout: true}
	cfg := DefaultConfig("test-model")
	cfg.MaxRetriesOnError = 0
	cfg.Timeout = 5 * time.Millisecond

	_, err := Chat(context.Background(), p, cfg, "", []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "hi"},
	}, nil, nil, nil)
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *LLMError, got %v", err)
	}
	if llmErr.Kind != ErrorKindTimeout {
		t.Fatalf("expected timeout kind, got %v", llmErr.Kind)
	}
}

func TestChatDetectsRepetitionAndTruncates(t *testing.T) {
	repeated := strings.Repeat("abc", 200)
	p := &scriptedProvider{text: repeated}
	cfg := DefaultConfig("test-model")

	got, err := Chat(context.Background(), p, cfg, "", []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "hi"},
	}, nil, nil, nil)
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *LLMError, got %v", err)
	}
	if llmErr.Kind != ErrorKindRepetition {
		t.Fatalf("expected repetition kind, got %v", llmErr.Kind)
	}
	if len(got) > cfg.Repetition.MinChars {
		t.Fatalf("expected truncated output, got length %d", len(got))
	}
}

type thresholdBudgeter struct{ trim bool }

func (b thresholdBudgeter) ShouldTrim(_ []coremodels.ChatMessage) bool { return b.trim }
func (b thresholdBudgeter) EstimateTokens(msgs []coremodels.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Text())
	}
	return total
}

func TestChatTrimsWhenBudgeterSaysOver(t *testing.T) {
	p := &scriptedProvider{text: "ok"}
	cfg := DefaultConfig("test-model")

	var history []coremodels.ChatMessage
	for i := 0; i < 40; i++ {
		history = append(history, coremodels.ChatMessage{Role: coremodels.RoleUser, Content: "turn"})
		history = append(history, coremodels.ChatMessage{Role: coremodels.RoleAssistant, Content: "reply"})
	}

	_, err := Chat(context.Background(), p, cfg, "", history, nil, thresholdBudgeter{trim: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
