package llmio

import "github.com/cluderun/agentcore/pkg/coremodels"

// NormalizeMessages implements spec.md section 4.5 step 1: collapse
// consecutive same-role messages by concatenation; if the first
// non-system message is assistant, insert a synthetic minimal user turn;
// never reorder. This is the chokepoint every request passes through
// before it reaches the wire, and it is what section 8's
// "Role-alternation" invariant is checked against.
func NormalizeMessages(msgs []coremodels.ChatMessage) []coremodels.ChatMessage {
	if len(msgs) == 0 {
		return msgs
	}

	out := make([]coremodels.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.IsEmpty() {
			continue
		}
		if len(out) == 0 {
			out = append(out, m)
			continue
		}
		prev := &out[len(out)-1]
		if prev.Role == m.Role {
			*prev = concat(*prev, m)
			continue
		}
		out = append(out, m)
	}

	out = insertSyntheticUserIfNeeded(out)
	return out
}

// insertSyntheticUserIfNeeded enforces "the first non-system message
// must be user" by splicing in a minimal user turn when the first
// non-system message is assistant.
func insertSyntheticUserIfNeeded(msgs []coremodels.ChatMessage) []coremodels.ChatMessage {
	idx := firstNonSystem(msgs)
	if idx < 0 || msgs[idx].Role != coremodels.RoleAssistant {
		return msgs
	}
	bridge := coremodels.ChatMessage{Role: coremodels.RoleUser, Content: "(continue)"}
	out := make([]coremodels.ChatMessage, 0, len(msgs)+1)
	out = append(out, msgs[:idx]...)
	out = append(out, bridge)
	out = append(out, msgs[idx:]...)
	return out
}

func firstNonSystem(msgs []coremodels.ChatMessage) int {
	for i, m := range msgs {
		if m.Role != coremodels.RoleSystem {
			return i
		}
	}
	return -1
}

func concat(a, b coremodels.ChatMessage) coremodels.ChatMessage {
	merged := a
	at, bt := a.Text(), b.Text()
	switch {
	case at == "":
		merged.Content = bt
	case bt == "":
		merged.Content = at
	default:
		merged.Content = at + "\n\n" + bt
	}
	merged.Parts = nil
	merged.ToolCalls = append(append([]coremodels.ToolCall{}, a.ToolCalls...), b.ToolCalls...)
	merged.ToolResults = append(append([]coremodels.ToolResult{}, a.ToolResults...), b.ToolResults...)
	if b.CreatedAt.After(a.CreatedAt) {
		merged.CreatedAt = b.CreatedAt
	}
	return merged
}

// IsAlternating verifies the role-alternation invariant from spec.md
// section 3/8, used by tests and by a defensive assertion right before a
// request is sent.
func IsAlternating(msgs []coremodels.ChatMessage) bool {
	idx := firstNonSystem(msgs)
	if idx >= 0 && msgs[idx].Role != coremodels.RoleUser {
		return false
	}
	for i := idx + 1; i < len(msgs); i++ {
		if msgs[i].Role != coremodels.RoleSystem && msgs[i].Role == msgs[i-1].Role {
			return false
		}
	}
	return true
}
