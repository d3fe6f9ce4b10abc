package toolkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cluderun/agentcore/internal/policy"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// EventEmitter is the minimal collaborator the Tool Lifecycle writes
// TurnEvents into. internal/statemachine's Bus implements it; the
// lifecycle depends only on this interface to avoid an import cycle.
type EventEmitter interface {
	Emit(kind coremodels.EventKind, stepID string, payload any)
}

// Auditor is the minimal collaborator the Tool Lifecycle appends audit
// entries to. internal/coreaudit's Logger implements it.
type Auditor interface {
	RecordToolCall(traceID, tool, argsDigest, resultDigest string, durationMS int64, ok bool)
}

// noopEmitter/noopAuditor let a Lifecycle be constructed without wiring
// every collaborator, useful in tests.
type noopEmitter struct{}

func (noopEmitter) Emit(coremodels.EventKind, string, any) {}

type noopAuditor struct{}

func (noopAuditor) RecordToolCall(string, string, string, string, int64, bool) {}

// LifecycleConfig bundles the Tool Lifecycle's collaborators.
type LifecycleConfig struct {
	Registry   *Registry
	Cache      *ResultCache
	Compressor *Compressor
	Executor   *Executor
	Resolver   *policy.Resolver
	Checker    *policy.Checker
	Events     EventEmitter
	Audit      Auditor
}

// Lifecycle runs the per-call pipeline from spec.md section 4.3: risk
// evaluation -> confirmation -> command safety -> dispatch -> audit ->
// compress.
type Lifecycle struct {
	cfg LifecycleConfig
}

// NewLifecycle constructs a Lifecycle, filling nil collaborators with
// no-ops so partial wiring in tests doesn't panic.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	if cfg.Events == nil {
		cfg.Events = noopEmitter{}
	}
	if cfg.Audit == nil {
		cfg.Audit = noopAuditor{}
	}
	if cfg.Compressor == nil {
		cfg.Compressor = NewCompressor(DefaultCompressorConfig())
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor(DefaultExecutorConfig())
	}
	return &Lifecycle{cfg: cfg}
}

// TurnContext carries the per-turn state the Lifecycle needs but does
// not own: the active profile's risk level and tool policy, the current
// trace/session ids, the plan title + impacted paths for a Plan Review,
// and the salient tokens from the current step text (for keyword-biased
// compression).
type TurnContext struct {
	TraceID       string
	SessionID     string
	StepID        string
	RiskLevel     coremodels.RiskLevel
	Policy        policy.ToolPolicy
	PlanTitle     string
	ImpactedPaths []string
	SalientTokens []string
	SeenTools     map[string]bool
	Utilization   float64
}

// Dispatch runs call through the full Tool Lifecycle and returns the
// ToolResult to feed back as well as the Compressed summary used to
// build the next user message.
func (l *Lifecycle) Dispatch(ctx context.Context, tc TurnContext, call coremodels.ToolCall) (coremodels.ToolResult, Compressed) {
	start := time.Now()

	validated, err := l.cfg.Registry.ValidateArgs(call.Name, call.Args)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return l.fail(tc, call, coremodels.ErrNoTool, fmt.Sprintf("tool %q is not registered", call.Name), nil)
		}
		return l.fail(tc, call, coremodels.ErrInvalidArgs, err.Error(), validationDetails(err))
	}

	// ValidateArgs already confirmed call.Name is registered; Get only
	// needs to re-check the callable_by_model sub-case here.
	spec, ok := l.cfg.Registry.Get(call.Name)
	if !ok || !spec.CallableByModel {
		return l.fail(tc, call, coremodels.ErrNoTool, fmt.Sprintf("tool %q is not callable by model", call.Name), nil)
	}

	if l.cfg.Resolver != nil && !l.cfg.Resolver.Allows(tc.Policy, spec.Name) {
		l.cfg.Events.Emit(coremodels.EventPolicyDeny, tc.StepID, map[string]any{"tool": spec.Name, "reason": "not in active policy"})
		return l.fail(tc, call, coremodels.ErrPolicyDenied, fmt.Sprintf("tool %q is not permitted by the active policy", spec.Name), nil)
	}

	decision := policy.Decide(tc.RiskLevel, spec.SideEffects)
	switch decision {
	case coremodels.DecisionReject:
		l.cfg.Events.Emit(coremodels.EventPolicyDeny, tc.StepID, map[string]any{"tool": spec.Name, "reason": "CRITICAL risk reject"})
		return l.fail(tc, call, coremodels.ErrPolicyDenied, "CRITICAL risk tools are rejected at this core level", nil)

	case coremodels.DecisionConfirm:
		if l.cfg.Checker != nil && l.cfg.Checker.Policy.RequiresConfirmation(spec.SideEffects) {
			if spec.SideEffects == coremodels.SideEffectExec {
				if ok, reason := l.cfg.Checker.Safety.Check(argPreview(validated)); !ok {
					l.cfg.Events.Emit(coremodels.EventPolicyDeny, tc.StepID, map[string]any{"tool": spec.Name, "reason": reason})
					return l.fail(tc, call, coremodels.ErrPolicyDenied, reason, nil)
				}
			}
			l.cfg.Events.Emit(coremodels.EventToolConfirm, tc.StepID, map[string]any{"tool": spec.Name})
			approved, cerr := l.cfg.Checker.RequestConfirmation(ctx, spec.Name, argPreview(validated), "CONFIRM decision from Risk Router")
			if cerr != nil || !approved {
				l.cfg.Events.Emit(coremodels.EventPolicyDeny, tc.StepID, map[string]any{"tool": spec.Name, "reason": "user declined confirmation"})
				return l.fail(tc, call, coremodels.ErrDenied, "user declined confirmation", nil)
			}
		}

	case coremodels.DecisionApprove:
		if l.cfg.Checker != nil {
			approved, cerr := l.cfg.Checker.RequestPlanReview(ctx, tc.PlanTitle, tc.ImpactedPaths, spec.Name)
			if cerr != nil || !approved {
				l.cfg.Events.Emit(coremodels.EventPolicyDeny, tc.StepID, map[string]any{"tool": spec.Name, "reason": "plan review not approved"})
				return l.fail(tc, call, coremodels.ErrDenied, "plan review was not approved", nil)
			}
		}
	}

	if spec.Idempotent {
		if cached, hit := l.cfg.Cache.Get(spec.Name, validated); hit {
			l.cfg.Audit.RecordToolCall(tc.TraceID, spec.Name, digest(validated), digest(cached), time.Since(start).Milliseconds(), cached.OK)
			return cached, l.compress(tc, spec.Name, cached)
		}
	}

	execResult := l.cfg.Executor.Execute(ctx, spec, call.ID, validated)
	result := execResult.Result
	result.ToolCallID = call.ID
	if execResult.Err != nil {
		te := NewToolError(spec.Name, execResult.Err).WithToolCallID(call.ID).WithAttempts(execResult.Attempts)
		result = coremodels.ToolResult{
			ToolCallID: call.ID,
			OK:         false,
			Error:      &coremodels.ToolResultError{Code: te.Code, Message: sanitize(te.Message)},
		}
	} else {
		result.OK = true
	}

	if spec.SideEffects == coremodels.SideEffectWrite || spec.SideEffects == coremodels.SideEffectExec {
		if result.OK {
			l.cfg.Cache.InvalidateTouched(extractPathArgs(validated))
		}
	}
	if spec.Idempotent && result.OK {
		l.cfg.Cache.Put(spec.Name, validated, result, extractPathArgs(validated))
	}

	l.cfg.Audit.RecordToolCall(tc.TraceID, spec.Name, digest(validated), digest(result), time.Since(start).Milliseconds(), result.OK)
	l.cfg.Events.Emit(coremodels.EventToolResult, tc.StepID, map[string]any{"tool": spec.Name, "ok": result.OK})

	return result, l.compress(tc, spec.Name, result)
}

func (l *Lifecycle) fail(tc TurnContext, call coremodels.ToolCall, code coremodels.ErrorCode, msg string, details any) (coremodels.ToolResult, Compressed) {
	result := coremodels.ToolResult{
		ToolCallID: call.ID,
		OK:         false,
		Error:      &coremodels.ToolResultError{Code: code, Message: sanitize(msg), Details: details},
	}
	return result, Compressed{Fidelity: FidelitySummary, Counts: map[string]int{"ok": 0}}
}

// FeedbackResult builds the ToolResult that actually enters the message
// store as the next user turn (spec.md section 4.3 step 6, section 4.4:
// "the compressor never emits raw, unbounded payloads"). It keeps the
// original result's tool_call_id/ok/error but replaces Payload with the
// bounded Compressed summary, so a caller that forwards this value
// instead of Dispatch's raw result never leaks an uncompressed payload
// into the transcript.
func FeedbackResult(result coremodels.ToolResult, compressed Compressed) coremodels.ToolResult {
	result.Payload = map[string]any{
		"fidelity":  string(compressed.Fidelity),
		"counts":    compressed.Counts,
		"items":     compressed.Items,
		"text":      compressed.Text,
		"truncated": compressed.Truncated,
	}
	return result
}

func (l *Lifecycle) compress(tc TurnContext, toolName string, result coremodels.ToolResult) Compressed {
	fidelity := l.cfg.Compressor.FidelityFor(toolName, tc.SeenTools, tc.Utilization)
	raw := RawResult{SalientTokens: tc.SalientTokens}
	if result.Payload != nil {
		if text, ok := result.Payload["text"].(string); ok {
			raw.FullText = text
		}
		if ec, ok := result.Payload["exit_code"].(int); ok {
			raw.ExitCode = &ec
		}
	}
	return l.cfg.Compressor.Compress(raw, fidelity)
}

func validationDetails(err error) any {
	if ve, ok := err.(*ValidationError); ok {
		return map[string]any{
			"accepted_args": ve.AcceptedArgs,
			"suggested_arg": ve.SuggestedArg,
			"suggested_from": ve.SuggestedFrom,
		}
	}
	return nil
}

func argPreview(args json.RawMessage) string {
	s := string(args)
	if len(s) > 256 {
		s = s[:253] + "..."
	}
	return RedactSecrets(s)
}

// digest hashes v for the audit log, which records a digest rather than
// raw args/results to keep the log bounded and avoid storing secrets
// twice (spec.md section 4.3 step 5: "audit.tool, args_digest,
// result_digest").
func digest(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// sanitize strips secret-pattern matches from a user-visible error
// message, per spec.md section 7's "sensitive details are redacted from
// user-facing messages".
func sanitize(msg string) string {
	return RedactSecrets(msg)
}
