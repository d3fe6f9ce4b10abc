// Package planner implements the Plan model (spec.md section 4.7:
// parsing FullPlan/PlanPatch JSON, DAG validation) and the Step Executor
// (spec.md section 4.8: dependency-ordered step execution with bounded
// per-step tool-call loops, deadlock detection, and bounded
// replanning).
package planner

import (
	"context"
	"fmt"

	"github.com/cluderun/agentcore/internal/parsing"
	"github.com/cluderun/agentcore/internal/toolkit"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// EventEmitter is the minimal collaborator the executor writes
// plan_generated/plan_step_start/plan_step_end/plan_replanned TurnEvents
// into; internal/statemachine.Bus implements it.
type EventEmitter interface {
	Emit(kind coremodels.EventKind, stepID string, payload any)
}

type noopEmitter struct{}

func (noopEmitter) Emit(coremodels.EventKind, string, any) {}

// ExecutorConfig bounds one Step Executor run (spec.md section 5's
// fuses).
type ExecutorConfig struct {
	MaxStepToolCalls int
	MaxReplans       int
}

// DefaultExecutorConfig matches spec.md section 5's stated defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxStepToolCalls: 20, MaxReplans: 3}
}

// ChatFunc is the LLM I/O chokepoint the executor calls through, shaped
// after internal/llmio.Chat so the executor depends only on a narrow
// function type rather than the whole llmio package's Config.
type ChatFunc func(ctx context.Context, system string, history []coremodels.ChatMessage, tools []coremodels.ToolSpec) (string, error)

// Executor runs a FullPlan to completion, failure, or deadlock.
type Executor struct {
	cfg       ExecutorConfig
	lifecycle *toolkit.Lifecycle
	registry  *toolkit.Registry
	chat      ChatFunc
	events    EventEmitter
}

// NewExecutor wires the Step Executor's collaborators. chat is the LLM
// I/O chokepoint; lifecycle dispatches tool calls; registry supplies the
// tool manifest rendered into each step's prompt.
func NewExecutor(cfg ExecutorConfig, lifecycle *toolkit.Lifecycle, registry *toolkit.Registry, chat ChatFunc, events EventEmitter) *Executor {
	if events == nil {
		events = noopEmitter{}
	}
	return &Executor{cfg: cfg, lifecycle: lifecycle, registry: registry, chat: chat, events: events}
}

// RunResult is the Step Executor's terminal outcome for one turn.
type RunResult struct {
	Plan       coremodels.FullPlan
	StopReason coremodels.StopReason
	FinalText  string
	Replans    int
}

// stepFailure records why a step was marked failed, fed into the
// replanning prompt.
type stepFailure struct {
	stepID string
	reason string
}

// Run executes plan to completion. It mutates a working copy of plan's
// steps in place across the run and returns the final plan state.
func (e *Executor) Run(ctx context.Context, tc toolkit.TurnContext, plan coremodels.FullPlan) RunResult {
	replans := 0

	for {
		MarkBlocked(plan.Steps)
		if Deadlocked(plan.Steps) {
			return RunResult{Plan: plan, StopReason: coremodels.StopDeadlock, Replans: replans}
		}
		ready := Ready(plan.Steps)
		if len(ready) == 0 {
			if AllTerminal(plan.Steps) {
				return RunResult{Plan: plan, StopReason: coremodels.StopDone, Replans: replans}
			}
			return RunResult{Plan: plan, StopReason: coremodels.StopDeadlock, Replans: replans}
		}

		stepIdx := indexOf(plan.Steps, ready[0])
		outcome, text := e.runStep(ctx, tc, &plan.Steps[stepIdx])

		switch outcome {
		case stepOutcomeDone:
			continue
		case stepOutcomeFailed:
			if replans >= e.cfg.MaxReplans {
				return RunResult{Plan: plan, StopReason: coremodels.StopMaxReplans, Replans: replans}
			}
			patched, err := e.replan(ctx, tc, plan, stepFailure{stepID: plan.Steps[stepIdx].ID, reason: text})
			replans++
			if err != nil {
				return RunResult{Plan: plan, StopReason: coremodels.StopReplanExhausted, Replans: replans}
			}
			plan = patched
			e.events.Emit(coremodels.EventPlanReplanned, plan.Steps[stepIdx].ID, map[string]any{"attempt": replans})
			continue
		case stepOutcomeInformational:
			continue
		}
	}
}

type stepOutcome int

const (
	stepOutcomeDone stepOutcome = iota
	stepOutcomeFailed
	stepOutcomeInformational
)

// runStep drives one step's bounded inner loop (spec.md section 4.8
// steps 1-4). It returns the terminal outcome and, on failure, a short
// human-readable reason for the replanning prompt.
func (e *Executor) runStep(ctx context.Context, tc toolkit.TurnContext, step *coremodels.PlanStep) (stepOutcome, string) {
	step.Status = coremodels.StepInProgress
	e.events.Emit(coremodels.EventPlanStepStart, step.ID, map[string]any{"description": step.Description})

	history := []coremodels.ChatMessage{e.stepUserMessage(*step)}
	stc := tc
	stc.StepID = step.ID

	for i := 0; i < e.cfg.MaxStepToolCalls; i++ {
		text, err := e.chat(ctx, tc.PlanTitle, history, e.registry.ListVisible())
		if err != nil {
			step.Status = coremodels.StepFailed
			e.events.Emit(coremodels.EventPlanStepEnd, step.ID, map[string]any{"status": step.Status, "reason": err.Error()})
			return stepOutcomeFailed, err.Error()
		}

		parsed := parsing.Parse(text)
		switch parsed.Kind {
		case parsing.OutputToolCall:
			e.events.Emit(coremodels.EventToolCallParsed, step.ID, map[string]any{"tool": parsed.Tool.Name})
			history = append(history, coremodels.ChatMessage{Role: coremodels.RoleAssistant, Content: text})
			result, compressed := e.lifecycle.Dispatch(ctx, stc, *parsed.Tool)
			e.events.Emit(coremodels.EventToolResultFedBack, step.ID, map[string]any{"tool": parsed.Tool.Name, "ok": result.OK})
			feedback := toolkit.FeedbackResult(result, compressed)
			history = append(history, coremodels.ToolResultsAsMessage([]coremodels.ToolResult{feedback}))
			continue

		case parsing.OutputControl:
			switch parsed.Control.Control {
			case parsing.ControlStepDone:
				step.Status = coremodels.StepDone
				e.events.Emit(coremodels.EventPlanStepEnd, step.ID, map[string]any{"status": step.Status})
				return stepOutcomeDone, ""
			case parsing.ControlReplan:
				step.Status = coremodels.StepFailed
				reason := parsed.Control.Reason
				if reason == "" {
					reason = "model requested replan"
				}
				e.events.Emit(coremodels.EventPlanStepEnd, step.ID, map[string]any{"status": step.Status, "reason": reason})
				return stepOutcomeFailed, reason
			}

		case parsing.OutputText:
			if len(step.ToolsExpected) == 0 {
				step.Status = coremodels.StepDone
				e.events.Emit(coremodels.EventPlanStepEnd, step.ID, map[string]any{"status": step.Status})
				return stepOutcomeInformational, ""
			}
			history = append(history, coremodels.ChatMessage{Role: coremodels.RoleAssistant, Content: text})
			history = append(history, coremodels.ChatMessage{Role: coremodels.RoleUser, Content: "A tool call or control frame was expected for this step. Reissue your response as exactly one tool-call JSON object or control frame."})
		}
	}

	step.Status = coremodels.StepFailed
	e.events.Emit(coremodels.EventPlanStepEnd, step.ID, map[string]any{"status": step.Status, "reason": "max_step_tool_calls exhausted"})
	return stepOutcomeFailed, "step exhausted its tool-call budget without a terminal control frame"
}

// stepUserMessage builds the per-step prompt named in spec.md section
// 4.8 step 2: the step description, the recognized-tool manifest, and
// the instruction to call a tool or emit a control frame.
func (e *Executor) stepUserMessage(step coremodels.PlanStep) coremodels.ChatMessage {
	manifest := e.registry.AsManifestText()
	content := fmt.Sprintf(
		"Step: %s\n\nAvailable tools:\n%s\n\nRespond with exactly one tool-call JSON object {\"tool\":...,\"args\":...}, or a control frame {\"control\":\"step_done\"} once the step is satisfied, or {\"control\":\"replan\",\"reason\":...} if it cannot be completed as written.",
		step.Description, manifest,
	)
	return coremodels.ChatMessage{Role: coremodels.RoleUser, Content: content}
}

// replan asks the LLM for a PlanPatch per spec.md section 4.8's
// replanning prompt shape, preferring a patch over a fresh FullPlan, and
// applies whichever it returns.
func (e *Executor) replan(ctx context.Context, tc toolkit.TurnContext, plan coremodels.FullPlan, failure stepFailure) (coremodels.FullPlan, error) {
	rendered, err := RenderPlan(plan)
	if err != nil {
		return plan, err
	}
	prompt := fmt.Sprintf(
		"The current plan is:\n%s\n\nStep %q failed: %s\n\nPrefer returning a PlanPatch JSON object ({\"type\":\"PlanPatch\",...}) that removes or amends only the affected steps. Only return a full FullPlan if patching is impossible.",
		rendered, failure.stepID, failure.reason,
	)
	history := []coremodels.ChatMessage{{Role: coremodels.RoleUser, Content: prompt}}
	text, err := e.chat(ctx, tc.PlanTitle, history, nil)
	if err != nil {
		return plan, err
	}

	// The model was asked to prefer a PlanPatch; try that first and only
	// fall back to a full FullPlan if the payload is tagged as one (a
	// naive "is it JSON" check can't distinguish the two shapes, since
	// both are JSON objects).
	patch, perr := ParsePatch(text)
	if perr == nil {
		return ApplyPatch(plan, patch)
	}

	fresh, ferr := ParsePlan(text)
	if ferr != nil {
		return plan, fmt.Errorf("replan output was neither a valid PlanPatch (%v) nor a valid FullPlan (%v)", perr, ferr)
	}
	preserveDone(plan, &fresh)
	return fresh, nil
}

// preserveDone copies DONE status from old onto matching step ids in
// fresh, per spec.md section 4.8: "preserve all done steps, and resume."
func preserveDone(old coremodels.FullPlan, fresh *coremodels.FullPlan) {
	done := make(map[string]bool)
	for _, s := range old.Steps {
		if s.Status == coremodels.StepDone {
			done[s.ID] = true
		}
	}
	for i := range fresh.Steps {
		if done[fresh.Steps[i].ID] {
			fresh.Steps[i].Status = coremodels.StepDone
		}
	}
}

func indexOf(steps []coremodels.PlanStep, id string) int {
	for i, s := range steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}
