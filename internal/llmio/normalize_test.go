package llmio

import (
	"testing"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

func TestNormalizeMessagesCollapsesConsecutiveSameRole(t *testing.T) {
	in := []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "part one"},
		{Role: coremodels.RoleUser, Content: "part two"},
		{Role: coremodels.RoleAssistant, Content: "reply"},
	}
	out := NormalizeMessages(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages after collapse, got %d", len(out))
	}
	if out[0].Content != "part one\n\npart two" {
		t.Fatalf("unexpected merged content: %q", out[0].Content)
	}
}

func TestNormalizeMessagesInsertsSyntheticUserWhenAssistantLeads(t *testing.T) {
	in := []coremodels.ChatMessage{
		{Role: coremodels.RoleSystem, Content: "system prompt"},
		{Role: coremodels.RoleAssistant, Content: "greetings"},
	}
	out := NormalizeMessages(in)
	if len(out) != 3 {
		t.Fatalf("expected synthetic bridge inserted, got %d messages: %+v", len(out), out)
	}
	if out[1].Role != coremodels.RoleUser {
		t.Fatalf("expected synthetic user message at index 1, got role %v", out[1].Role)
	}
	if !IsAlternating(out) {
		t.Fatalf("expected alternating roles after normalize, got %+v", out)
	}
}

func TestNormalizeMessagesDropsEmptyMessages(t *testing.T) {
	in := []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "hi"},
		{Role: coremodels.RoleAssistant},
		{Role: coremodels.RoleUser, Content: "still here"},
	}
	out := NormalizeMessages(in)
	for _, m := range out {
		if m.IsEmpty() {
			t.Fatalf("expected empty messages dropped, got %+v", out)
		}
	}
}

func TestIsAlternatingRejectsRepeatedRole(t *testing.T) {
	msgs := []coremodels.ChatMessage{
		{Role: coremodels.RoleUser, Content: "a"},
		{Role: coremodels.RoleUser, Content: "b"},
	}
	if IsAlternating(msgs) {
		t.Fatal("expected non-alternating sequence to be rejected")
	}
}
