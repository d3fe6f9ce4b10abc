package llmio

import (
	"strings"
	"testing"
)

func TestDetectRepetitionFlagsDegenerateLoop(t *testing.T) {
	text := strings.Repeat("the cat sat ", 50)
	if !DetectRepetition(text, DefaultRepetitionConfig()) {
		t.Fatal("expected degenerate repeated text to be flagged")
	}
}

func TestDetectRepetitionIgnoresShortText(t *testing.T) {
	text := strings.Repeat("ab", 10)
	if DetectRepetition(text, DefaultRepetitionConfig()) {
		t.Fatal("expected text under MinChars to never be flagged")
	}
}

func TestDetectRepetitionAllowsNaturalProse(t *testing.T) {
	text := strings.Repeat("each sentence here says something a little different than the last one did. ", 5)
	if DetectRepetition(text, DefaultRepetitionConfig()) {
		t.Fatal("expected varied prose not to be flagged")
	}
}

func TestTruncateAtTrimsToBound(t *testing.T) {
	got := TruncateAt("0123456789", 4)
	if got != "0123" {
		t.Fatalf("got %q", got)
	}
	if got := TruncateAt("short", 10); got != "short" {
		t.Fatalf("expected untouched string, got %q", got)
	}
}
