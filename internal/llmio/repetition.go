package llmio

import "strings"

// RepetitionConfig tunes the pathological-output detector (spec.md
// section 4.5 step 5, section 9's open question on threshold tuning).
// The Open Question decision recorded in DESIGN.md: trigram repetition
// ratio over the whole accumulated text, threshold 0.92, only evaluated
// once at least MinChars characters have accumulated (so a short,
// legitimately repetitive reply like "ok ok ok" doesn't false-positive).
type RepetitionConfig struct {
	Threshold float64
	MinChars  int
	NGram     int
}

// DefaultRepetitionConfig is the tuning decision recorded in DESIGN.md.
func DefaultRepetitionConfig() RepetitionConfig {
	return RepetitionConfig{Threshold: 0.92, MinChars: 200, NGram: 3}
}

// DetectRepetition reports whether text's n-gram repetition ratio (the
// share of n-grams that repeat an earlier one: 1 - distinct/total)
// exceeds cfg.Threshold, which the LLM I/O layer treats as pathological
// output (spec.md section 4.5 step 5: "n-gram repetition ratio >
// threshold ... truncate and surface as llm_error{kind=repetition}").
func DetectRepetition(text string, cfg RepetitionConfig) bool {
	if len(text) < cfg.MinChars {
		return false
	}
	n := cfg.NGram
	if n <= 0 {
		n = 3
	}
	if len(text) < n {
		return false
	}

	counts := make(map[string]int, len(text))
	total := 0
	for i := 0; i+n <= len(text); i++ {
		gram := text[i : i+n]
		counts[gram]++
		total++
	}
	if total == 0 {
		return false
	}
	ratio := 1 - float64(len(counts))/float64(total)
	return ratio > cfg.Threshold
}

// TruncateAt returns text cut to at most maxChars, used once
// DetectRepetition fires so the garbled remainder is never fed forward.
func TruncateAt(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return strings.TrimSpace(text[:maxChars])
}
