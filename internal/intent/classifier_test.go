package intent

import (
	"context"
	"testing"

	"github.com/cluderun/agentcore/internal/llmio"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

func TestGreetingShortCircuitsToGeneralChat(t *testing.T) {
	for _, text := range []string{"你好", "hi", "Hello!", "  hey  "} {
		got := Classify(context.Background(), nil, text)
		if got.Intent != coremodels.IntentGeneralChat {
			t.Errorf("Classify(%q) = %v, want GENERAL_CHAT", text, got.Intent)
		}
		if got.Confidence < ConfidenceThreshold {
			t.Errorf("Classify(%q) confidence = %v, want >= threshold", text, got.Confidence)
		}
	}
}

func TestKeywordStageCodingTask(t *testing.T) {
	got := Classify(context.Background(), nil, "fix the bug in the parser")
	if got.Intent != coremodels.IntentCodingTask {
		t.Fatalf("got %v, want CODING_TASK", got.Intent)
	}
	if got.UsedLLM {
		t.Fatal("expected keyword stage to short-circuit, not call the LLM")
	}
}

func TestNoProviderFallsBackToUncertain(t *testing.T) {
	got := Classify(context.Background(), nil, "the weather is nice today and I like cats")
	if got.Intent != coremodels.IntentUncertain {
		t.Fatalf("got %v, want UNCERTAIN when no provider and no keyword match", got.Intent)
	}
}

func TestLLMFallbackUsedBelowThreshold(t *testing.T) {
	p := fakeProvider{label: "TECHNICAL_CONSULTING"}
	got := Classify(context.Background(), p, "the weather is nice today and I like cats")
	if got.Intent != coremodels.IntentTechnicalConsulting || !got.UsedLLM {
		t.Fatalf("got %+v, want LLM fallback to TECHNICAL_CONSULTING", got)
	}
}

func TestLLMInvalidLabelFallsBackToKeywordOrUncertain(t *testing.T) {
	p := fakeProvider{label: "NOT_A_REAL_CATEGORY"}
	got := Classify(context.Background(), p, "the weather is nice today and I like cats")
	if got.Intent != coremodels.IntentUncertain {
		t.Fatalf("got %+v, want UNCERTAIN fallback on invalid LLM label", got)
	}
}

type fakeProvider struct{ label string }

func (fakeProvider) Name() string { return "fake" }

func (f fakeProvider) Complete(ctx context.Context, req llmio.CompletionRequest) (<-chan llmio.CompletionChunk, error) {
	ch := make(chan llmio.CompletionChunk, 1)
	ch <- llmio.CompletionChunk{Text: f.label, Done: true}
	close(ch)
	return ch, nil
}
