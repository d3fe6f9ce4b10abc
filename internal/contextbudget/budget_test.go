package contextbudget

import (
	"strings"
	"testing"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

func msg(role coremodels.Role, content string) coremodels.ChatMessage {
	return coremodels.ChatMessage{Role: role, Content: content}
}

func TestShouldTrimRespectsThreshold(t *testing.T) {
	b := NewBudgeter(Config{MaxContextTokens: 1000, ReservedOutputTokens: 0, UtilizationThreshold: 0.5, CharsPerToken: 1})
	small := []coremodels.ChatMessage{msg(coremodels.RoleUser, strings.Repeat("a", 100))}
	if b.ShouldTrim(small) {
		t.Fatal("small history should not trigger trim")
	}
	big := []coremodels.ChatMessage{msg(coremodels.RoleUser, strings.Repeat("a", 900))}
	if !b.ShouldTrim(big) {
		t.Fatal("big history should trigger trim")
	}
}

func TestTrimPreservesSystemPromptAndAlternation(t *testing.T) {
	b := NewBudgeter(Config{MaxContextTokens: 40, ReservedOutputTokens: 0, CharsPerToken: 1})
	msgs := []coremodels.ChatMessage{
		msg(coremodels.RoleSystem, "sys"),
		msg(coremodels.RoleUser, strings.Repeat("x", 50)),
		msg(coremodels.RoleAssistant, strings.Repeat("y", 50)),
		msg(coremodels.RoleUser, "recent"),
	}
	tagged := b.Classify(msgs, nil, nil)
	out := b.Trim(tagged)

	if len(out) == 0 || out[0].Role != coremodels.RoleSystem {
		t.Fatalf("expected system prompt preserved at index 0, got %+v", out)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Role != coremodels.RoleSystem && out[i].Role == out[i-1].Role {
			t.Fatalf("adjacent messages share role at %d: %+v", i, out)
		}
	}
	if len(out) >= 2 && out[1].Role == coremodels.RoleAssistant {
		t.Fatalf("first non-system message must not be assistant: %+v", out)
	}
}

func TestClassifyMarksProtectedWorkingRecent(t *testing.T) {
	b := NewBudgeter(DefaultConfig())
	msgs := []coremodels.ChatMessage{
		msg(coremodels.RoleSystem, "sys"),
		msg(coremodels.RoleUser, "old"),
		msg(coremodels.RoleAssistant, "old reply"),
	}
	tagged := b.Classify(msgs, map[int]bool{1: true}, nil)
	if tagged[0].Priority != PriorityProtected {
		t.Errorf("index 0 should be PROTECTED, got %v", tagged[0].Priority)
	}
	if tagged[1].Priority != PriorityWorking {
		t.Errorf("index 1 should be WORKING, got %v", tagged[1].Priority)
	}
}
