package toolkit

import (
	"context"
	"testing"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

func newTestLifecycle(t *testing.T, reg *Registry) *Lifecycle {
	t.Helper()
	return NewLifecycle(LifecycleConfig{Registry: reg, Cache: NewResultCache()})
}

func readEchoSpec(t *testing.T) coremodels.ToolSpec {
	t.Helper()
	spec, err := Define[struct {
		Text string `json:"text"`
	}]("read_echo", "echoes text", "returns its input text", coremodels.SideEffectRead,
		func(ctx coremodels.ToolCtx, args struct {
			Text string `json:"text"`
		}) (coremodels.ToolResult, error) {
			return coremodels.ToolResult{OK: true, Payload: map[string]any{"text": args.Text}}, nil
		})
	if err != nil {
		t.Fatalf("define read_echo tool: %v", err)
	}
	spec.CallableByModel = true
	spec.VisibleInPrompt = true
	return spec
}

func TestDispatchUnregisteredToolReturnsErrNoTool(t *testing.T) {
	reg := NewRegistry()
	lc := newTestLifecycle(t, reg)

	result, _ := lc.Dispatch(context.Background(), TurnContext{}, coremodels.ToolCall{ID: "1", Name: "ghost"})
	if result.OK {
		t.Fatal("expected failure for unregistered tool")
	}
	if result.Error == nil || result.Error.Code != coremodels.ErrNoTool {
		t.Fatalf("expected E_NO_TOOL for unregistered tool, got %+v", result.Error)
	}
}

func TestDispatchInvalidArgsReturnsErrInvalidArgs(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(readEchoSpec(t)); err != nil {
		t.Fatal(err)
	}
	lc := newTestLifecycle(t, reg)

	result, _ := lc.Dispatch(context.Background(), TurnContext{}, coremodels.ToolCall{ID: "1", Name: "read_echo", Args: []byte(`{"text":5}`)})
	if result.OK {
		t.Fatal("expected failure for malformed args")
	}
	if result.Error == nil || result.Error.Code != coremodels.ErrInvalidArgs {
		t.Fatalf("expected E_INVALID_ARGS for malformed args, got %+v", result.Error)
	}
}

func TestDispatchNotCallableByModelReturnsErrNoTool(t *testing.T) {
	reg := NewRegistry()
	spec := readEchoSpec(t)
	spec.CallableByModel = false
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}
	lc := newTestLifecycle(t, reg)

	result, _ := lc.Dispatch(context.Background(), TurnContext{}, coremodels.ToolCall{ID: "1", Name: "read_echo", Args: []byte(`{"text":"hi"}`)})
	if result.OK {
		t.Fatal("expected failure for tool not callable by model")
	}
	if result.Error == nil || result.Error.Code != coremodels.ErrNoTool {
		t.Fatalf("expected E_NO_TOOL when callable_by_model is false, got %+v", result.Error)
	}
}

func TestDispatchSucceedsForValidCall(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(readEchoSpec(t)); err != nil {
		t.Fatal(err)
	}
	lc := newTestLifecycle(t, reg)

	result, compressed := lc.Dispatch(context.Background(), TurnContext{}, coremodels.ToolCall{ID: "1", Name: "read_echo", Args: []byte(`{"text":"hello"}`)})
	if !result.OK {
		t.Fatalf("expected success, got error %+v", result.Error)
	}
	if result.Payload["text"] != "hello" {
		t.Fatalf("expected raw payload to carry 'hello', got %+v", result.Payload)
	}
	if compressed.Fidelity != FidelityDetailed {
		t.Fatalf("expected first call this turn to compress at detailed fidelity, got %v", compressed.Fidelity)
	}
}

// TestFeedbackResultStripsRawPayload exercises the compression hand-off:
// the value built by FeedbackResult, not Dispatch's raw ToolResult, is
// what must enter message history, so it must carry the bounded
// Compressed summary rather than the tool's raw payload.
func TestFeedbackResultStripsRawPayload(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(readEchoSpec(t)); err != nil {
		t.Fatal(err)
	}
	lc := newTestLifecycle(t, reg)

	result, compressed := lc.Dispatch(context.Background(), TurnContext{}, coremodels.ToolCall{ID: "1", Name: "read_echo", Args: []byte(`{"text":"hello"}`)})
	if !result.OK {
		t.Fatalf("expected success, got error %+v", result.Error)
	}

	feedback := FeedbackResult(result, compressed)
	if feedback.ToolCallID != result.ToolCallID || feedback.OK != result.OK {
		t.Fatalf("expected FeedbackResult to preserve tool_call_id/ok, got %+v", feedback)
	}
	if _, stillRaw := feedback.Payload["text"]; stillRaw && feedback.Payload["text"] == "hello" {
		t.Fatalf("expected FeedbackResult to replace the raw payload, got %+v", feedback.Payload)
	}
	if feedback.Payload["fidelity"] != string(compressed.Fidelity) {
		t.Fatalf("expected feedback payload to carry the compressed fidelity, got %+v", feedback.Payload)
	}
	if _, ok := feedback.Payload["counts"]; !ok {
		t.Fatalf("expected feedback payload to carry compressed counts, got %+v", feedback.Payload)
	}
}

func TestDispatchCachesIdempotentReads(t *testing.T) {
	calls := 0
	spec, err := Define[struct {
		Text string `json:"text"`
	}]("counter", "counts calls", "returns a call count", coremodels.SideEffectRead,
		func(ctx coremodels.ToolCtx, args struct {
			Text string `json:"text"`
		}) (coremodels.ToolResult, error) {
			calls++
			return coremodels.ToolResult{OK: true, Payload: map[string]any{"calls": calls}}, nil
		})
	if err != nil {
		t.Fatalf("define counter tool: %v", err)
	}
	spec.CallableByModel = true
	spec.Idempotent = true

	reg := NewRegistry()
	if err := reg.Register(spec); err != nil {
		t.Fatal(err)
	}
	lc := newTestLifecycle(t, reg)

	ctx := context.Background()
	call := coremodels.ToolCall{ID: "1", Name: "counter", Args: []byte(`{"text":"x"}`)}
	first, _ := lc.Dispatch(ctx, TurnContext{}, call)
	second, _ := lc.Dispatch(ctx, TurnContext{}, call)

	if !first.OK || !second.OK {
		t.Fatalf("expected both dispatches to succeed, got %+v and %+v", first.Error, second.Error)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once due to cache hit, ran %d times", calls)
	}
	if first.Payload["calls"] != second.Payload["calls"] {
		t.Fatalf("expected cached result to match first result, got %+v vs %+v", first.Payload, second.Payload)
	}
}
