// Package parsing implements the tagged-union parser over one LLM turn's
// raw text: control frame, tool call, or plain text, with explicit
// precedence control > tool > text (spec.md section 4.6). It
// deliberately rejects substring-based control-frame detection — see
// spec.md section 9's explicit deprecation of string-matching on
// unstructured prose for control semantics.
package parsing

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ControlKind is one of the two accepted control-frame kinds.
type ControlKind string

const (
	ControlStepDone ControlKind = "step_done"
	ControlReplan   ControlKind = "replan"
)

// ControlFrame is a parsed `{"control": "..."}` frame.
type ControlFrame struct {
	Control ControlKind `json:"control"`
	Reason  string      `json:"reason,omitempty"`
}

// OutputKind classifies one parsed assistant turn.
type OutputKind string

const (
	OutputControl  OutputKind = "control"
	OutputToolCall OutputKind = "tool_call"
	OutputText     OutputKind = "text"
)

// ParsedOutput is the exhaustive tagged union produced by Parse.
type ParsedOutput struct {
	Kind    OutputKind
	Control *ControlFrame
	Tool    *coremodels.ToolCall
	Text    string
}

var fencedBlock = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n(.*?)\\n```$")

// Parse classifies raw assistant output, trying control-frame JSON, then
// tool-call JSON, then falling back to plain text. A fenced code block
// containing exactly one JSON object is unwrapped before either JSON
// attempt, matching spec.md section 4.6's "a fenced code block
// containing exactly one such object is also accepted."
func Parse(raw string) ParsedOutput {
	trimmed := strings.TrimSpace(raw)
	candidate := unwrapFence(trimmed)

	if cf, ok := tryControlFrame(candidate); ok {
		return ParsedOutput{Kind: OutputControl, Control: cf}
	}
	if tc, ok := tryToolCall(candidate); ok {
		return ParsedOutput{Kind: OutputToolCall, Tool: tc}
	}
	return ParsedOutput{Kind: OutputText, Text: raw}
}

func unwrapFence(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// tryControlFrame succeeds only if candidate's entire non-whitespace
// content is a single JSON object whose only meaningful shape is
// {"control": <accepted value>, "reason"?: string}. Any surrounding
// prose, or any additional unrecognized top-level keys beyond reason,
// disqualifies it — matching the "Control-frame exclusivity" testable
// property in spec.md section 8.
func tryControlFrame(candidate string) (*ControlFrame, bool) {
	if !looksLikeSingleJSONObject(candidate) {
		return nil, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, false
	}
	ctrlRaw, ok := raw["control"]
	if !ok {
		return nil, false
	}
	var ctrl string
	if err := json.Unmarshal(ctrlRaw, &ctrl); err != nil {
		return nil, false
	}
	switch ControlKind(ctrl) {
	case ControlStepDone, ControlReplan:
	default:
		return nil, false
	}
	for k := range raw {
		if k != "control" && k != "reason" {
			return nil, false
		}
	}
	frame := &ControlFrame{Control: ControlKind(ctrl)}
	if reasonRaw, ok := raw["reason"]; ok {
		var reason string
		if err := json.Unmarshal(reasonRaw, &reason); err == nil {
			frame.Reason = reason
		}
	}
	return frame, true
}

// tryToolCall succeeds only if candidate's entire non-whitespace content
// is a single JSON object of shape {"tool": name, "args": {...}}.
func tryToolCall(candidate string) (*coremodels.ToolCall, bool) {
	if !looksLikeSingleJSONObject(candidate) {
		return nil, false
	}
	var raw struct {
		Tool string          `json:"tool"`
		Args json.RawMessage `json:"args"`
	}
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	if raw.Tool == "" {
		return nil, false
	}
	if raw.Args == nil {
		raw.Args = json.RawMessage("{}")
	}
	return &coremodels.ToolCall{Name: raw.Tool, Args: raw.Args}, true
}

// looksLikeSingleJSONObject reports whether s, after trimming
// whitespace, is exactly one JSON object with no trailing or leading
// prose. This is the structural guard behind "Any surrounding prose
// disqualifies it from being a tool call" (spec.md section 4.6).
func looksLikeSingleJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) == 0 || s[0] != '{' {
		return false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return false
	}
	rest := strings.TrimSpace(s[dec.InputOffset():])
	return rest == ""
}
