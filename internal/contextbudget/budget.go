// Package contextbudget implements the Context Budgeter (spec.md section
// 4.12): token accounting and priority-based trimming of the Message
// Store, preserving the role-alternation invariant after a trim.
package contextbudget

import "github.com/cluderun/agentcore/pkg/coremodels"

// Priority is a message's implicit trim priority. Lower values are
// dropped first.
type Priority int

const (
	PriorityArchival  Priority = iota // rest
	PriorityRelevant                  // older but referenced
	PriorityWorking                   // current step
	PriorityRecent                    // last ~5 turns
	PriorityProtected                 // system
)

// Tagged pairs a ChatMessage with its computed priority and an opaque
// index into the original Message Store, so a caller can reconstruct
// which original messages survived a trim.
type Tagged struct {
	Message  coremodels.ChatMessage
	Priority Priority
	Index    int
}

// Config bounds the budgeter, mirroring internal/agent/context/packer.go's
// PackOptions merged with internal/agent/compaction.go's threshold
// knob.
type Config struct {
	MaxContextTokens     int     // model's context window
	ReservedOutputTokens int     // held back for the response
	UtilizationThreshold float64 // trigger trim above this fraction (default 0.7)
	RecentTurns          int     // how many trailing turns count as RECENT (default 5)
	CharsPerToken        float64 // token-estimate proxy (default 4.0)
}

// DefaultConfig matches spec.md section 4.12's stated default (0.7
// utilization threshold) plus the teacher's char-per-token proxy (no
// tokenizer library appears in the pack, see DESIGN.md).
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:     128_000,
		ReservedOutputTokens: 2048,
		UtilizationThreshold: 0.7,
		RecentTurns:          5,
		CharsPerToken:        4.0,
	}
}

// Budgeter estimates token usage and trims a message sequence down to
// budget while preserving the role-alternation invariant.
type Budgeter struct {
	cfg Config
}

// NewBudgeter constructs a Budgeter; a zero-value cfg is replaced with
// DefaultConfig.
func NewBudgeter(cfg Config) *Budgeter {
	if cfg.MaxContextTokens == 0 {
		cfg = DefaultConfig()
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4.0
	}
	if cfg.UtilizationThreshold <= 0 {
		cfg.UtilizationThreshold = 0.7
	}
	if cfg.RecentTurns <= 0 {
		cfg.RecentTurns = 5
	}
	return &Budgeter{cfg: cfg}
}

// EstimateTokens approximates msgs' total prompt-token cost via the
// chars/4 proxy (spec.md section 4.5 step 2), matching the teacher's
// own character-budget approximation since no tokenizer library appears
// anywhere in the pack.
func (b *Budgeter) EstimateTokens(msgs []coremodels.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += b.estimateOne(m)
	}
	return total
}

func (b *Budgeter) estimateOne(m coremodels.ChatMessage) int {
	chars := len(m.Text())
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Args)
	}
	for _, tr := range m.ToolResults {
		if tr.Payload != nil {
			chars += 64 * len(tr.Payload)
		}
		if tr.Error != nil {
			chars += len(tr.Error.Message)
		}
	}
	return int(float64(chars) / b.cfg.CharsPerToken)
}

// Utilization returns EstimateTokens(msgs) as a fraction of the usable
// context (MaxContextTokens - ReservedOutputTokens).
func (b *Budgeter) Utilization(msgs []coremodels.ChatMessage) float64 {
	usable := b.cfg.MaxContextTokens - b.cfg.ReservedOutputTokens
	if usable <= 0 {
		return 1.0
	}
	return float64(b.EstimateTokens(msgs)) / float64(usable)
}

// ShouldTrim reports whether Utilization(msgs) exceeds the configured
// threshold.
func (b *Budgeter) ShouldTrim(msgs []coremodels.ChatMessage) bool {
	return b.Utilization(msgs) > b.cfg.UtilizationThreshold
}

// Classify assigns a Priority to every message in msgs. index 0 is
// always the system prompt and is PROTECTED; workingStepIndices names
// message indices belonging to the current plan step (WORKING);
// referencedIndices names indices an earlier tool call or plan step
// explicitly references (RELEVANT); everything else trailing within
// RecentTurns*2 messages (user+assistant pairs) of the end is RECENT;
// the remainder is ARCHIVAL.
func (b *Budgeter) Classify(msgs []coremodels.ChatMessage, workingStepIndices, referencedIndices map[int]bool) []Tagged {
	out := make([]Tagged, len(msgs))
	recentCut := len(msgs) - b.cfg.RecentTurns*2
	for i, m := range msgs {
		p := PriorityArchival
		switch {
		case i == 0 && m.Role == coremodels.RoleSystem:
			p = PriorityProtected
		case workingStepIndices[i]:
			p = PriorityWorking
		case i >= recentCut:
			p = PriorityRecent
		case referencedIndices[i]:
			p = PriorityRelevant
		}
		out[i] = Tagged{Message: m, Priority: p, Index: i}
	}
	return out
}

// Trim drops messages from lowest priority upward until
// EstimateTokens(result) fits within the usable budget, then restores
// the role-alternation invariant (spec.md section 4.12: "when trimming
// leaves system followed by assistant, drop the assistant or synthesize
// a minimal user bridging turn"). It always keeps index 0 (the system
// prompt) regardless of priority.
func (b *Budgeter) Trim(tagged []Tagged) []coremodels.ChatMessage {
	usable := b.cfg.MaxContextTokens - b.cfg.ReservedOutputTokens
	kept := make([]bool, len(tagged))
	for i := range kept {
		kept[i] = true
	}

	current := func() []coremodels.ChatMessage {
		out := make([]coremodels.ChatMessage, 0, len(tagged))
		for i, t := range tagged {
			if kept[i] {
				out = append(out, t.Message)
			}
		}
		return out
	}

	for order := PriorityArchival; order <= PriorityWorking; order++ {
		if b.EstimateTokens(current()) <= usable {
			break
		}
		for i, t := range tagged {
			if i == 0 {
				continue // system prompt is never dropped
			}
			if !kept[i] || t.Priority != order {
				continue
			}
			kept[i] = false
			if b.EstimateTokens(current()) <= usable {
				break
			}
		}
	}

	return repairAlternation(current())
}

// repairAlternation restores the invariant from spec.md section 3 after
// a trim has removed interior messages: no two adjacent non-system
// messages share a role, and the first non-system message is user. A
// gap that leaves system immediately followed by assistant gets a
// synthetic minimal user bridging turn inserted, matching
// internal/agent/transcript_repair.go's approach (see internal/llmio).
func repairAlternation(msgs []coremodels.ChatMessage) []coremodels.ChatMessage {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]coremodels.ChatMessage, 0, len(msgs))
	out = append(out, msgs[0])
	for i := 1; i < len(msgs); i++ {
		m := msgs[i]
		prev := out[len(out)-1]
		if prev.Role == coremodels.RoleSystem && m.Role == coremodels.RoleAssistant {
			out = append(out, syntheticBridgeMessage())
		}
		if prev.Role != coremodels.RoleSystem && prev.Role == m.Role {
			merged := mergeSameRole(prev, m)
			out[len(out)-1] = merged
			continue
		}
		out = append(out, m)
	}
	return out
}

func syntheticBridgeMessage() coremodels.ChatMessage {
	return coremodels.ChatMessage{Role: coremodels.RoleUser, Content: "(continue)"}
}

func mergeSameRole(a, b coremodels.ChatMessage) coremodels.ChatMessage {
	merged := a
	merged.Content = a.Text() + "\n\n" + b.Text()
	merged.ToolCalls = append(append([]coremodels.ToolCall{}, a.ToolCalls...), b.ToolCalls...)
	merged.ToolResults = append(append([]coremodels.ToolResult{}, a.ToolResults...), b.ToolResults...)
	if b.CreatedAt.After(a.CreatedAt) {
		merged.CreatedAt = b.CreatedAt
	}
	return merged
}
