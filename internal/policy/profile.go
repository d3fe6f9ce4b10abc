package policy

import "strings"

// ToolProfile names a pre-configured tool-visibility tier, matching the
// Prompt Profile's policy layer (spec.md sections 3, 4.10): which tools a
// given PromptProfile's risk tier is even allowed to see, before the
// per-call Risk Router runs.
type ToolProfile string

const (
	ProfileMinimal ToolProfile = "minimal"
	ProfileCoding  ToolProfile = "coding"
	ProfileFull    ToolProfile = "full"
)

// ToolPolicy combines a profile with explicit allow/deny lists. Deny
// always wins over allow. Group references ("group:fs") are resolved via
// the Resolver's groups; a wildcard suffix ("mcp.*") matches any tool
// name that starts with the text before ".*" followed by a dot.
type ToolPolicy struct {
	Profile ToolProfile `yaml:"profile,omitempty"`
	Allow   []string    `yaml:"allow,omitempty"`
	Deny    []string    `yaml:"deny,omitempty"`
}

// DefaultGroups mirrors internal/tools/policy/types.go's DefaultGroups,
// trimmed to the tool categories relevant to a code-engineering core.
var DefaultGroups = map[string][]string{
	"group:fs":      {"read_file", "write_file", "edit_file", "list_dir"},
	"group:exec":    {"run_cmd"},
	"group:search":  {"grep", "glob"},
	"group:network": {"web_fetch", "web_search"},
}

var profileDefaults = map[ToolProfile]ToolPolicy{
	ProfileMinimal: {Allow: []string{"grep", "glob", "read_file"}},
	ProfileCoding:  {Allow: []string{"group:fs", "group:exec", "group:search"}},
	ProfileFull:    {}, // everything not explicitly denied
}

// Resolver decides, for one tool name, whether a ToolPolicy allows it.
type Resolver struct {
	groups map[string][]string
}

// NewResolver constructs a Resolver seeded with DefaultGroups, merged
// with any caller-supplied extra groups (later entries win).
func NewResolver(extraGroups map[string][]string) *Resolver {
	merged := make(map[string][]string, len(DefaultGroups)+len(extraGroups))
	for k, v := range DefaultGroups {
		merged[k] = v
	}
	for k, v := range extraGroups {
		merged[k] = v
	}
	return &Resolver{groups: merged}
}

// Allows reports whether policy permits toolName, for profile ==
// policy.Profile merged with its explicit allow/deny lists.
func (r *Resolver) Allows(p ToolPolicy, toolName string) bool {
	toolName = strings.ToLower(strings.TrimSpace(toolName))

	if r.matchesAny(p.Deny, toolName) {
		return false
	}
	if r.matchesAny(p.Allow, toolName) {
		return true
	}

	base, ok := profileDefaults[p.Profile]
	if !ok {
		base = profileDefaults[ProfileFull]
	}
	if p.Profile == ProfileFull {
		return true
	}
	return r.matchesAny(base.Allow, toolName)
}

func (r *Resolver) matchesAny(patterns []string, toolName string) bool {
	for _, pat := range patterns {
		if r.matches(pat, toolName) {
			return true
		}
	}
	return false
}

func (r *Resolver) matches(pattern, toolName string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == toolName {
		return true
	}
	if names, ok := r.groups[pattern]; ok {
		for _, n := range names {
			if n == toolName {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(toolName, prefix+".")
	}
	return false
}
