package coremodels

import "time"

// EventKind is a member of the TurnEvent fixed vocabulary (spec.md
// section 3).
type EventKind string

const (
	EventIntentClassified      EventKind = "intent_classified"
	EventProfileSelected       EventKind = "profile_selected"
	EventSystemPromptRefreshed EventKind = "system_prompt_refreshed"
	EventPlanGenerated         EventKind = "plan_generated"
	EventPlanStepStart         EventKind = "plan_step_start"
	EventPlanStepEnd           EventKind = "plan_step_end"
	EventPlanReplanned         EventKind = "plan_replanned"
	EventLLMRequest            EventKind = "llm_request"
	EventLLMResponse           EventKind = "llm_response"
	EventLLMError              EventKind = "llm_error"
	EventToolCallParsed        EventKind = "tool_call_parsed"
	EventToolConfirm           EventKind = "tool_confirm"
	EventPolicyDeny            EventKind = "policy_deny"
	EventToolResult            EventKind = "tool_result"
	EventToolResultFedBack     EventKind = "tool_result_fed_back"
	EventVerify                EventKind = "verify"
	EventState                 EventKind = "state"
	EventFinalText             EventKind = "final_text"
	EventStopReason            EventKind = "stop_reason"
)

// StopReason is the terminal classification of a turn's outcome (spec.md
// section 7).
type StopReason string

const (
	StopDone            StopReason = "done"
	StopCancelled       StopReason = "cancelled"
	StopMaxIterations   StopReason = "max_iterations"
	StopMaxReplans      StopReason = "max_replans"
	StopDeadlock        StopReason = "deadlock"
	StopReplanExhausted StopReason = "replan_exhausted"
	StopLLMError        StopReason = "llm_error"
	StopPolicyReject    StopReason = "policy_reject"
	StopInternalError   StopReason = "internal_error"
)

// TurnEvent is the structured record every component writes to the Event
// Bus. Sequence is monotonically increasing per session, assigned by the
// bus itself (see internal/statemachine).
type TurnEvent struct {
	TraceID   string     `json:"trace_id"`
	SessionID string     `json:"session_id"`
	StepID    string     `json:"step_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Sequence  uint64     `json:"sequence"`
	Kind      EventKind  `json:"kind"`
	Payload   any        `json:"payload,omitempty"`
}
