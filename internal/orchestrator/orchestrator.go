// Package orchestrator wires the Intent Classifier, Profile Router,
// Prompt Profile composer, Context Budgeter, Planner (Step Executor /
// ReAct fallback), and the State Machine & Event Bus into the single
// per-turn driver named in spec.md section 2's control-flow line:
// `UserInput -> Classify -> SelectProfile -> BuildSystemPrompt ->
// (Plan? PlanExecutor : ReActLoop) -> EmitFinalAnswer`.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/cluderun/agentcore/internal/contextbudget"
	"github.com/cluderun/agentcore/internal/intent"
	"github.com/cluderun/agentcore/internal/llmio"
	"github.com/cluderun/agentcore/internal/planner"
	"github.com/cluderun/agentcore/internal/promptprofile"
	"github.com/cluderun/agentcore/internal/statemachine"
	"github.com/cluderun/agentcore/internal/toolkit"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Config bounds one Orchestrator's fuses beyond what the Step
// Executor/ReAct Loop already bound internally (spec.md section 5).
type Config struct {
	MaxPlanParseRetries int
	LLM                 llmio.Config
}

// DefaultConfig matches spec.md section 5's stated defaults.
func DefaultConfig(model string) Config {
	return Config{MaxPlanParseRetries: 2, LLM: llmio.DefaultConfig(model)}
}

// Orchestrator drives one turn end to end. It owns no session state
// across turns beyond what the caller threads back in via Turn's
// arguments; each session's Message Store, Plan, and Cache are the
// caller's responsibility (spec.md section 5: "each [session] owns its
// own Message Store, Cache, Plan, and state machine").
type Orchestrator struct {
	cfg       Config
	provider  llmio.Provider
	budgeter  *contextbudget.Budgeter
	router    *intent.Router
	composer  *promptprofile.Composer
	registry  *toolkit.Registry
	lifecycle *toolkit.Lifecycle
	bus       *statemachine.Bus
	machine   *statemachine.Machine
}

// New wires an Orchestrator from its collaborators. bus and machine are
// per-turn (or per-session); callers construct fresh ones via
// statemachine.NewBus/NewMachine for each turn they drive.
func New(cfg Config, provider llmio.Provider, budgeter *contextbudget.Budgeter, router *intent.Router, composer *promptprofile.Composer, registry *toolkit.Registry, lifecycle *toolkit.Lifecycle, bus *statemachine.Bus, machine *statemachine.Machine) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, provider: provider, budgeter: budgeter, router: router,
		composer: composer, registry: registry, lifecycle: lifecycle,
		bus: bus, machine: machine,
	}
}

// TurnResult is the caller-visible outcome of one Turn call.
type TurnResult struct {
	Intent     coremodels.Intent
	Profile    coremodels.PromptProfile
	FinalText  string
	StopReason coremodels.StopReason
	Plan       *coremodels.FullPlan
}

// Turn runs one complete turn for userText against projectID's intent
// registry scope, given history accumulated so far in the session's
// Message Store (history does not include userText; Turn appends it).
func (o *Orchestrator) Turn(ctx context.Context, projectID string, history []coremodels.ChatMessage, userText string) TurnResult {
	o.machine.Step("", statemachine.EventUserMessage) // IDLE -> INTAKE

	cls := intent.Classify(ctx, o.provider, userText)
	o.bus.Emit(coremodels.EventIntentClassified, "", map[string]any{"intent": cls.Intent, "confidence": cls.Confidence, "used_llm": cls.UsedLLM})

	profile := o.router.ProfileFor(projectID, cls.Intent)
	o.bus.Emit(coremodels.EventProfileSelected, "", map[string]any{"profile": profile.Name, "risk_level": profile.RiskLevel})

	o.machine.Step("", statemachine.EventUserMessage) // INTAKE -> CONTEXT_BUILDING

	system, err := o.composer.ComposeSystemPrompt(profile, map[string]string{"user_text": userText})
	if err != nil {
		return TurnResult{Intent: cls.Intent, Profile: profile, StopReason: coremodels.StopInternalError}
	}
	o.bus.Emit(coremodels.EventSystemPromptRefreshed, "", map[string]any{"length": len(system)})

	working := append(append([]coremodels.ChatMessage{}, history...), coremodels.ChatMessage{Role: coremodels.RoleUser, Content: userText})
	if o.budgeter.ShouldTrim(working) {
		tagged := o.budgeter.Classify(working, nil, nil)
		working = o.budgeter.Trim(tagged)
	}

	o.machine.Step("", statemachine.EventUserMessage) // CONTEXT_BUILDING -> PLANNING

	chat := o.chatFunc()
	tc := toolkit.TurnContext{RiskLevel: profile.RiskLevel}

	if !profile.PlanningEnabled {
		o.machine.Step("", statemachine.EventToolCallRequest) // PLANNING -> EXECUTING
		react := planner.NewReActLoop(planner.DefaultReActConfig(), o.lifecycle, o.registry, chat, o.bus)
		result := react.Run(ctx, tc, system, userText)
		o.finish(result.StopReason)
		return TurnResult{Intent: cls.Intent, Profile: profile, FinalText: result.FinalText, StopReason: result.StopReason}
	}

	plan, planErr := o.generatePlan(ctx, system, working)
	if planErr != nil {
		o.bus.Emit(coremodels.EventLLMError, "", map[string]any{"kind": "plan_parse_exhausted"})
		o.machine.Step("", statemachine.EventToolCallRequest) // PLANNING -> EXECUTING, via ReAct fallback
		react := planner.NewReActLoop(planner.DefaultReActConfig(), o.lifecycle, o.registry, chat, o.bus)
		result := react.Run(ctx, tc, system, userText)
		o.finish(result.StopReason)
		return TurnResult{Intent: cls.Intent, Profile: profile, FinalText: result.FinalText, StopReason: result.StopReason}
	}
	o.bus.Emit(coremodels.EventPlanGenerated, "", map[string]any{"title": plan.Title, "steps": len(plan.Steps)})

	o.machine.Step("", statemachine.EventToolCallRequest) // PLANNING -> EXECUTING

	executor := planner.NewExecutor(planner.DefaultExecutorConfig(), o.lifecycle, o.registry, chat, o.bus)
	runResult := executor.Run(ctx, tc, plan)
	o.finish(runResult.StopReason)

	return TurnResult{
		Intent:     cls.Intent,
		Profile:    profile,
		StopReason: runResult.StopReason,
		Plan:       &runResult.Plan,
	}
}

// generatePlan asks the LLM to produce a FullPlan, retrying the parse up
// to cfg.MaxPlanParseRetries times with a corrective follow-up message
// before giving up and letting the caller fall back to the ReAct Loop
// (spec.md section 4.9: "or plan parsing repeatedly fails").
func (o *Orchestrator) generatePlan(ctx context.Context, system string, working []coremodels.ChatMessage) (coremodels.FullPlan, error) {
	history := append([]coremodels.ChatMessage{}, working...)
	history = append(history, coremodels.ChatMessage{
		Role:    coremodels.RoleUser,
		Content: "Produce a FullPlan JSON object ({\"type\":\"FullPlan\",\"title\":...,\"steps\":[...]}) that accomplishes this request via the available tools.",
	})

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxPlanParseRetries; attempt++ {
		text, err := o.chatFunc()(ctx, system, history, o.registry.ListVisible())
		if err != nil {
			return coremodels.FullPlan{}, err
		}
		plan, perr := planner.ParsePlan(text)
		if perr == nil {
			return plan, nil
		}
		lastErr = perr
		history = append(history, coremodels.ChatMessage{Role: coremodels.RoleAssistant, Content: text})
		history = append(history, coremodels.ChatMessage{Role: coremodels.RoleUser, Content: fmt.Sprintf("That was not a valid FullPlan: %v. Reissue a single valid FullPlan JSON object.", perr)})
	}
	return coremodels.FullPlan{}, lastErr
}

// chatFunc adapts llmio.Chat into planner.ChatFunc, closing over this
// Orchestrator's provider/budgeter/bus so planner never depends on
// llmio directly.
func (o *Orchestrator) chatFunc() planner.ChatFunc {
	return func(ctx context.Context, system string, history []coremodels.ChatMessage, tools []coremodels.ToolSpec) (string, error) {
		return llmio.Chat(ctx, o.provider, o.cfg.LLM, system, history, tools, o.budgeter, o.bus)
	}
}

// finish emits the terminal stop_reason event and drives the state
// machine from EXECUTING to DONE. CANCEL forces DONE immediately from
// any state (spec.md section 4.1's invariant); any other stop reason
// walks the normal EXECUTING -> VERIFYING -> SUMMARIZING -> DONE path
// with three STEP_DONE events, matching the transition table even when
// no verification step actually ran (an idle VERIFYING/SUMMARIZING stop
// is itself the observable signal that nothing more will happen this
// turn).
func (o *Orchestrator) finish(stopReason coremodels.StopReason) {
	o.bus.Emit(coremodels.EventStopReason, "", map[string]any{"stop_reason": stopReason})
	if stopReason == coremodels.StopCancelled {
		o.machine.Step("", statemachine.EventCancel)
		return
	}
	o.machine.Step("", statemachine.EventStepDone) // EXECUTING -> VERIFYING
	o.machine.Step("", statemachine.EventStepDone) // VERIFYING -> SUMMARIZING
	o.machine.Step("", statemachine.EventStepDone) // SUMMARIZING -> DONE
}
