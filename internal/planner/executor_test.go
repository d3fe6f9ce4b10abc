package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cluderun/agentcore/internal/toolkit"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

func echoTool(t *testing.T) coremodels.ToolSpec {
	spec, err := toolkit.Define[struct {
		Text string `json:"text"`
	}]("echo", "echoes text", "returns its input text", coremodels.SideEffectRead,
		func(ctx coremodels.ToolCtx, args struct {
			Text string `json:"text"`
		}) (coremodels.ToolResult, error) {
			return coremodels.ToolResult{OK: true, Payload: map[string]any{"text": args.Text}}, nil
		})
	if err != nil {
		t.Fatalf("define echo tool: %v", err)
	}
	spec.CallableByModel = true
	spec.VisibleInPrompt = true
	return spec
}

func newTestExecutor(t *testing.T, chat ChatFunc) *Executor {
	reg := toolkit.NewRegistry()
	if err := reg.Register(echoTool(t)); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	lc := toolkit.NewLifecycle(toolkit.LifecycleConfig{
		Registry: reg,
		Cache:    toolkit.NewResultCache(),
	})
	return NewExecutor(DefaultExecutorConfig(), lc, reg, chat, nil)
}

func scriptedChat(t *testing.T, responses []string) ChatFunc {
	i := 0
	return func(ctx context.Context, system string, history []coremodels.ChatMessage, tools []coremodels.ToolSpec) (string, error) {
		if i >= len(responses) {
			t.Fatalf("chat called more times than scripted (%d)", len(responses))
		}
		r := responses[i]
		i++
		return r, nil
	}
}

func TestExecutorRunsSingleStepToDone(t *testing.T) {
	chat := scriptedChat(t, []string{
		`{"tool":"echo","args":{"text":"hi"}}`,
		`{"control":"step_done"}`,
	})
	ex := newTestExecutor(t, chat)

	plan := coremodels.FullPlan{
		Type: coremodels.FullPlanTypeTag,
		Steps: []coremodels.PlanStep{
			{ID: "s1", Description: "say hi", ToolsExpected: []string{"echo"}, Status: coremodels.StepPending},
		},
	}

	result := ex.Run(context.Background(), toolkit.TurnContext{RiskLevel: coremodels.RiskLow}, plan)
	if result.StopReason != coremodels.StopDone {
		t.Fatalf("expected stop_reason=done, got %v", result.StopReason)
	}
	if result.Plan.Steps[0].Status != coremodels.StepDone {
		t.Fatalf("expected step done, got %v", result.Plan.Steps[0].Status)
	}
}

func TestExecutorInformationalStepWithNoExpectedToolsFinishesOnText(t *testing.T) {
	chat := scriptedChat(t, []string{"here is the answer to your question"})
	ex := newTestExecutor(t, chat)

	plan := coremodels.FullPlan{
		Type: coremodels.FullPlanTypeTag,
		Steps: []coremodels.PlanStep{
			{ID: "s1", Description: "explain", Status: coremodels.StepPending},
		},
	}

	result := ex.Run(context.Background(), toolkit.TurnContext{}, plan)
	if result.StopReason != coremodels.StopDone {
		t.Fatalf("expected done, got %v", result.StopReason)
	}
}

func TestExecutorDeadlocksOnCircularDependency(t *testing.T) {
	ex := newTestExecutor(t, scriptedChat(t, nil))
	plan := coremodels.FullPlan{
		Type: coremodels.FullPlanTypeTag,
		Steps: []coremodels.PlanStep{
			{ID: "a", Dependencies: []string{"b"}, Status: coremodels.StepPending},
			{ID: "b", Dependencies: []string{"a"}, Status: coremodels.StepPending},
		},
	}
	result := ex.Run(context.Background(), toolkit.TurnContext{}, plan)
	if result.StopReason != coremodels.StopDeadlock {
		t.Fatalf("expected deadlock, got %v", result.StopReason)
	}
}

func TestExecutorExhaustsStepToolCallBudget(t *testing.T) {
	responses := make([]string, 0, 21)
	for i := 0; i < 21; i++ {
		responses = append(responses, `{"tool":"echo","args":{"text":"again"}}`)
	}
	ex := newTestExecutor(t, scriptedChat(t, responses))
	ex.cfg.MaxStepToolCalls = 2

	plan := coremodels.FullPlan{
		Type: coremodels.FullPlanTypeTag,
		Steps: []coremodels.PlanStep{
			{ID: "s1", Description: "loop forever", ToolsExpected: []string{"echo"}, Status: coremodels.StepPending},
		},
	}

	result := ex.Run(context.Background(), toolkit.TurnContext{}, plan)
	if result.StopReason != coremodels.StopMaxReplans && result.StopReason != coremodels.StopReplanExhausted && result.StopReason != coremodels.StopDeadlock {
		t.Fatalf("expected a terminal failure stop reason after budget exhaustion, got %v", result.StopReason)
	}
}

func TestExecutorReplansOnControlReplan(t *testing.T) {
	patch := coremodels.PlanPatch{
		Type: coremodels.PlanPatchTypeTag,
		Update: []coremodels.PartialStep{
			{ID: "s1", Status: statusPtr(coremodels.StepSkipped)},
		},
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		t.Fatal(err)
	}

	chat := scriptedChat(t, []string{
		`{"control":"replan","reason":"cannot satisfy step"}`,
		string(patchJSON),
	})
	ex := newTestExecutor(t, chat)

	plan := coremodels.FullPlan{
		Type: coremodels.FullPlanTypeTag,
		Steps: []coremodels.PlanStep{
			{ID: "s1", Description: "impossible step", ToolsExpected: []string{"echo"}, Status: coremodels.StepPending},
		},
	}

	result := ex.Run(context.Background(), toolkit.TurnContext{}, plan)
	if result.StopReason != coremodels.StopDone {
		t.Fatalf("expected done after patch skips the only step, got %v", result.StopReason)
	}
	if result.Replans != 1 {
		t.Fatalf("expected 1 replan, got %d", result.Replans)
	}
}

func statusPtr(s coremodels.PlanStepStatus) *coremodels.PlanStepStatus { return &s }
