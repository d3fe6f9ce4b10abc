package planner

import (
	"context"

	"github.com/cluderun/agentcore/internal/parsing"
	"github.com/cluderun/agentcore/internal/toolkit"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ReActConfig bounds one ReAct Loop run.
type ReActConfig struct {
	MaxTurns             int
	MaxControlViolations int
}

// DefaultReActConfig mirrors spec.md section 5's max_step_tool_calls
// default for the bounded inner loop, since the ReAct Loop has no plan
// to size itself against.
func DefaultReActConfig() ReActConfig {
	return ReActConfig{MaxTurns: 20, MaxControlViolations: 3}
}

// ReActLoop is the fallback turn driver used when planning is disabled
// or plan parsing repeatedly fails (spec.md section 4.9): a direct
// user<->tool loop with the same parser rules as the Step Executor,
// ending on a plain-text final answer.
type ReActLoop struct {
	cfg       ReActConfig
	lifecycle *toolkit.Lifecycle
	registry  *toolkit.Registry
	chat      ChatFunc
	events    EventEmitter
}

// NewReActLoop wires the ReAct Loop's collaborators.
func NewReActLoop(cfg ReActConfig, lifecycle *toolkit.Lifecycle, registry *toolkit.Registry, chat ChatFunc, events EventEmitter) *ReActLoop {
	if events == nil {
		events = noopEmitter{}
	}
	return &ReActLoop{cfg: cfg, lifecycle: lifecycle, registry: registry, chat: chat, events: events}
}

// ReActResult is the ReAct Loop's terminal outcome.
type ReActResult struct {
	FinalText  string
	StopReason coremodels.StopReason
	Warning    string
}

// Run drives the loop starting from userText until a plain-text final
// answer, a fuse trips, or persistent control-frame protocol violation
// degrades to a raw-text answer with a warning (spec.md section 4.9).
func (r *ReActLoop) Run(ctx context.Context, tc toolkit.TurnContext, system, userText string) ReActResult {
	history := []coremodels.ChatMessage{{Role: coremodels.RoleUser, Content: userText}}
	violations := 0

	for i := 0; i < r.cfg.MaxTurns; i++ {
		text, err := r.chat(ctx, system, history, r.registry.ListVisible())
		if err != nil {
			return ReActResult{StopReason: coremodels.StopLLMError}
		}

		parsed := parsing.Parse(text)
		switch parsed.Kind {
		case parsing.OutputToolCall:
			r.events.Emit(coremodels.EventToolCallParsed, "", map[string]any{"tool": parsed.Tool.Name})
			history = append(history, coremodels.ChatMessage{Role: coremodels.RoleAssistant, Content: text})
			result, compressed := r.lifecycle.Dispatch(ctx, tc, *parsed.Tool)
			r.events.Emit(coremodels.EventToolResultFedBack, "", map[string]any{"tool": parsed.Tool.Name, "ok": result.OK})
			feedback := toolkit.FeedbackResult(result, compressed)
			history = append(history, coremodels.ToolResultsAsMessage([]coremodels.ToolResult{feedback}))
			continue

		case parsing.OutputControl:
			violations++
			if violations > r.cfg.MaxControlViolations {
				return ReActResult{FinalText: text, StopReason: coremodels.StopDone, Warning: "control frame accepted as final text after repeated protocol violations"}
			}
			history = append(history, coremodels.ChatMessage{Role: coremodels.RoleAssistant, Content: text})
			history = append(history, coremodels.ChatMessage{Role: coremodels.RoleUser, Content: "Control frames are not valid in this context. Respond with either a tool-call JSON object or a plain-text answer."})
			continue

		case parsing.OutputText:
			r.events.Emit(coremodels.EventFinalText, "", map[string]any{"length": len(text)})
			return ReActResult{FinalText: text, StopReason: coremodels.StopDone}
		}
	}

	return ReActResult{StopReason: coremodels.StopMaxIterations}
}
