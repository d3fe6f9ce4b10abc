package toolkit

import (
	"regexp"
	"sort"
	"strings"
)

// Fidelity is one of the three compression tiers named in spec.md
// section 4.4.
type Fidelity string

const (
	FidelitySummary  Fidelity = "summary"
	FidelityCompact  Fidelity = "compact"
	FidelityDetailed Fidelity = "detailed"
)

// CompressorConfig bounds the Result Compressor's output sizes.
type CompressorConfig struct {
	CompactListCap   int // max items in a capped list at compact fidelity
	DetailedListCap  int // max items at detailed fidelity
	CompactCharBudget int // total char budget for a compact payload
	DetailedCharBudget int
	SummaryCharBudget  int
	ElisionMarker      string
}

// DefaultCompressorConfig returns the tier sizes used unless overridden.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		CompactListCap:     10,
		DetailedListCap:     40,
		CompactCharBudget:   2000,
		DetailedCharBudget:  8000,
		SummaryCharBudget:   200,
		ElisionMarker:       "…[truncated]…",
	}
}

// Compressor converts raw tool output into a bounded structured summary
// for feedback to the LLM, choosing a fidelity tier based on context
// utilization and whether the tool has already been called this turn.
type Compressor struct {
	cfg CompressorConfig
}

// NewCompressor constructs a Compressor with cfg; a zero-value cfg
// (all-zero numeric fields) is replaced with DefaultCompressorConfig.
func NewCompressor(cfg CompressorConfig) *Compressor {
	if cfg.CompactListCap == 0 {
		cfg = DefaultCompressorConfig()
	}
	return &Compressor{cfg: cfg}
}

// FidelityFor picks a tier: detailed only on the first call to toolName
// this turn, otherwise compact unless utilization is already high enough
// that only counts should be fed back (summary).
func (c *Compressor) FidelityFor(toolName string, seenToolsThisTurn map[string]bool, utilization float64) Fidelity {
	if utilization >= 0.9 {
		return FidelitySummary
	}
	if !seenToolsThisTurn[toolName] {
		return FidelityDetailed
	}
	return FidelityCompact
}

// Hit is one line-oriented result item (e.g. one grep match or one file
// listing entry) the compressor may cap and truncate.
type Hit struct {
	Path    string
	Line    int
	Preview string
}

// RawResult is the compressor's input shape: counts plus an optional list
// of line-oriented hits plus an optional full-text payload (e.g. a
// read_file's file content).
type RawResult struct {
	ExitCode     *int
	Hits         []Hit
	FilesMatched int
	FullText     string
	SalientTokens []string // tokens from the current user/step text
}

// Compressed is the bounded structure fed back to the LLM as the next
// tool-result message.
type Compressed struct {
	Fidelity     Fidelity       `json:"fidelity"`
	Counts       map[string]int `json:"counts,omitempty"`
	Items        []string       `json:"items,omitempty"`
	Text         string         `json:"text,omitempty"`
	Truncated    bool           `json:"truncated"`
}

// Compress converts raw into the Compressed shape appropriate for
// fidelity.
func (c *Compressor) Compress(raw RawResult, fidelity Fidelity) Compressed {
	counts := map[string]int{
		"hits":          len(raw.Hits),
		"files_matched": raw.FilesMatched,
	}
	if raw.ExitCode != nil {
		counts["exit_code"] = *raw.ExitCode
	}

	switch fidelity {
	case FidelitySummary:
		return Compressed{Fidelity: FidelitySummary, Counts: counts}
	case FidelityDetailed:
		items, truncatedItems := c.renderHits(raw.Hits, c.cfg.DetailedListCap)
		text, truncatedText := c.renderText(raw.FullText, raw.SalientTokens, c.cfg.DetailedCharBudget)
		return Compressed{
			Fidelity:  FidelityDetailed,
			Counts:    counts,
			Items:     items,
			Text:      text,
			Truncated: truncatedItems || truncatedText,
		}
	default: // compact
		items, truncatedItems := c.renderHits(raw.Hits, c.cfg.CompactListCap)
		text, truncatedText := c.renderText(raw.FullText, raw.SalientTokens, c.cfg.CompactCharBudget)
		return Compressed{
			Fidelity:  FidelityCompact,
			Counts:    counts,
			Items:     items,
			Text:      text,
			Truncated: truncatedItems || truncatedText,
		}
	}
}

func (c *Compressor) renderHits(hits []Hit, cap int) (items []string, truncated bool) {
	if len(hits) == 0 {
		return nil, false
	}
	n := len(hits)
	if n > cap {
		n = cap
		truncated = true
	}
	items = make([]string, 0, n)
	for _, h := range hits[:n] {
		preview := h.Preview
		if len(preview) > 120 {
			preview = preview[:117] + "..."
		}
		items = append(items, formatHit(h.Path, h.Line, preview))
	}
	return items, truncated
}

func formatHit(path string, line int, preview string) string {
	if line > 0 {
		return path + ":" + itoa(line) + ": " + preview
	}
	return path + ": " + preview
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// renderText truncates full to budget characters total, head+tail with
// an elision marker. When salient tokens are present, it biases the
// preview window toward the first occurrence of a salient token instead
// of the head of the file (spec.md section 4.4's keyword-biased
// read_file windows).
func (c *Compressor) renderText(full string, salient []string, budget int) (string, bool) {
	if full == "" {
		return "", false
	}
	if len(full) <= budget {
		return full, false
	}

	start := 0
	if idx := firstSalientIndex(full, salient); idx >= 0 {
		start = idx - budget/4
		if start < 0 {
			start = 0
		}
	}

	half := budget / 2
	headEnd := start + half
	if headEnd > len(full) {
		headEnd = len(full)
	}
	head := full[start:headEnd]

	tailStart := len(full) - half
	if tailStart < headEnd {
		tailStart = headEnd
	}
	tail := full[tailStart:]

	return head + c.cfg.ElisionMarker + tail, true
}

func firstSalientIndex(full string, salient []string) int {
	best := -1
	lower := strings.ToLower(full)
	for _, tok := range salient {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" || len(tok) < 3 {
			continue
		}
		if idx := strings.Index(lower, tok); idx >= 0 {
			if best == -1 || idx < best {
				best = idx
			}
		}
	}
	return best
}

// SalientTokens extracts candidate keyword tokens from free text, used
// to bias read_file preview windows toward the user's current request.
func SalientTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '.' || r == '/')
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// builtinSecretPatterns mirrors internal/agent/tool_result_guard.go's
// compiled secret regexes, reused here so the compressor never leaks a
// credential into LLM-bound feedback (spec.md section 8 "Redaction").
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,})['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{16,}`),
	regexp.MustCompile(`(?i)(AKIA|ASIA)[A-Z0-9]{16}`),
	regexp.MustCompile(`(?i)(secret|password|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA )?PRIVATE KEY-----`),
}

const redactionText = "[REDACTED]"

// RedactSecrets scans text for known secret patterns and replaces every
// match with redactionText.
func RedactSecrets(text string) string {
	for _, re := range builtinSecretPatterns {
		text = re.ReplaceAllString(text, redactionText)
	}
	return text
}

// DetectSecrets returns the names of any secret patterns that match
// text, without redacting, used by audit-time detection.
func DetectSecrets(text string) []string {
	names := []string{"api_key", "bearer_token", "aws_key", "generic_secret", "pem_private_key"}
	var found []string
	for i, re := range builtinSecretPatterns {
		if re.MatchString(text) {
			found = append(found, names[i])
		}
	}
	return found
}
