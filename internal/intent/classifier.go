// Package intent implements the Intent Classifier and Profile Router
// (spec.md section 4.10): a two-stage classification (keyword rule-set,
// then LLM fallback) mapping the resolved intent to a PromptProfile via
// a per-project registry.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/cluderun/agentcore/internal/llmio"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Result is the outcome of classification: the resolved intent, the
// confidence the keyword stage assigned (1.0 when the LLM stage was
// used and returned a valid label), and whether the LLM stage ran.
type Result struct {
	Intent        coremodels.Intent
	Confidence    float64
	UsedLLM       bool
}

// ConfidenceThreshold is the keyword stage's short-circuit threshold
// from spec.md section 4.10: "if confidence >= 0.90 the result is
// returned immediately."
const ConfidenceThreshold = 0.90

// keywordRule is one (category, pattern-set) entry in the rule-set.
// Confidence is the rule's own certainty when it fires; greeting
// patterns are 1.0 since spec.md section 4.10 says "short greetings
// always short-circuit to GENERAL_CHAT."
type keywordRule struct {
	intent     coremodels.Intent
	patterns   []*regexp.Regexp
	confidence float64
}

var greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|你好|yo|sup|good (morning|afternoon|evening))\s*[!.,]?\s*$`)

var rules = []keywordRule{
	{
		intent:     coremodels.IntentCapabilityInquiry,
		confidence: 0.92,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)what can you do`),
			regexp.MustCompile(`(?i)what are your capabilities`),
			regexp.MustCompile(`(?i)how do you work`),
			regexp.MustCompile(`(?i)list your tools`),
		},
	},
	{
		intent:     coremodels.IntentErrorDiagnosis,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bstack ?trace\b`),
			regexp.MustCompile(`(?i)\bpanic:\s`),
			regexp.MustCompile(`(?i)\btraceback\b`),
			regexp.MustCompile(`(?i)why (is|does) .* (fail|crash|error)`),
			regexp.MustCompile(`(?i)\bexception\b.*\boccurred\b`),
		},
	},
	{
		intent:     coremodels.IntentRepoAnalysis,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)explain (this|the) (repo|codebase|project|architecture)`),
			regexp.MustCompile(`(?i)how is .* (structured|organized)`),
			regexp.MustCompile(`(?i)give me an overview of`),
		},
	},
	{
		intent:     coremodels.IntentCodingTask,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(fix|implement|add|refactor|write|create)\b.*\b(function|bug|feature|test|endpoint|file|class)\b`),
			regexp.MustCompile(`(?i)^(fix|implement|add|refactor)\b`),
		},
	},
	{
		intent:     coremodels.IntentTechnicalConsulting,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)which (library|approach|framework) should`),
			regexp.MustCompile(`(?i)what.?s the (best|right) way to`),
			regexp.MustCompile(`(?i)trade-?offs? between`),
		},
	},
}

// ClassifyKeywords runs the rule-set stage only, returning the
// highest-confidence matching rule, or UNCERTAIN with 0 confidence if
// nothing matches. Greetings always win outright.
func ClassifyKeywords(text string) Result {
	trimmed := strings.TrimSpace(text)
	if greetingPattern.MatchString(trimmed) {
		return Result{Intent: coremodels.IntentGeneralChat, Confidence: 1.0}
	}

	best := Result{Intent: coremodels.IntentUncertain, Confidence: 0}
	for _, rule := range rules {
		for _, pat := range rule.patterns {
			if pat.MatchString(trimmed) && rule.confidence > best.Confidence {
				best = Result{Intent: rule.intent, Confidence: rule.confidence}
			}
		}
	}
	return best
}

// closedCategories is the fixed set the LLM fallback stage must return
// one of (spec.md section 4.10).
var closedCategories = map[coremodels.Intent]bool{
	coremodels.IntentCodingTask:          true,
	coremodels.IntentErrorDiagnosis:      true,
	coremodels.IntentRepoAnalysis:        true,
	coremodels.IntentTechnicalConsulting: true,
	coremodels.IntentGeneralChat:         true,
	coremodels.IntentCapabilityInquiry:   true,
	coremodels.IntentUncertain:           true,
}

// classifierSystemPrompt instructs the fallback LLM call to return
// exactly one label from the closed set and nothing else.
const classifierSystemPrompt = "Classify the user's message into exactly one of: " +
	"CODING_TASK, ERROR_DIAGNOSIS, REPO_ANALYSIS, TECHNICAL_CONSULTING, " +
	"GENERAL_CHAT, CAPABILITY_INQUIRY, UNCERTAIN. Respond with only the label."

// Classify runs the two-stage classification: keyword rules first, then
// an LLM fallback call when confidence is below ConfidenceThreshold. If
// provider is nil, or the LLM call fails, or its output is not a valid
// label, the keyword result is returned (or UNCERTAIN), per spec.md
// section 4.10: "If the LLM is unavailable or returns an invalid label,
// fall back to the keyword result (or UNCERTAIN)."
func Classify(ctx context.Context, provider llmio.Provider, text string) Result {
	kw := ClassifyKeywords(text)
	if kw.Confidence >= ConfidenceThreshold {
		return kw
	}
	if provider == nil {
		if kw.Confidence > 0 {
			return kw
		}
		return Result{Intent: coremodels.IntentUncertain}
	}

	label, ok := classifyViaLLM(ctx, provider, text)
	if !ok {
		if kw.Confidence > 0 {
			return kw
		}
		return Result{Intent: coremodels.IntentUncertain}
	}
	return Result{Intent: label, Confidence: 1.0, UsedLLM: true}
}

func classifyViaLLM(ctx context.Context, provider llmio.Provider, text string) (coremodels.Intent, bool) {
	req := llmio.CompletionRequest{
		System: classifierSystemPrompt,
		Messages: []coremodels.ChatMessage{
			{Role: coremodels.RoleUser, Content: text},
		},
		MaxTokens: 16,
	}
	ch, err := provider.Complete(ctx, req)
	if err != nil {
		return "", false
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", false
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	label := coremodels.Intent(strings.ToUpper(strings.TrimSpace(sb.String())))
	if !closedCategories[label] {
		return "", false
	}
	return label, true
}

// ParseConfidence is a small helper for registries/tests that serialize
// confidence as text; it tolerates an empty string as 0.
func ParseConfidence(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
