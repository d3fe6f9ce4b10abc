// Package toolkit implements the Tool Registry & Dispatch, Tool Result
// Cache, Result Compressor, and Tool Lifecycle components of the agent
// core (spec.md sections 4.2-4.4).
package toolkit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// MaxToolNameLength and MaxToolParamsSize bound dispatch requests before
// any schema work happens, mirroring internal/agent/tool_registry.go's
// fast-path guards in front of full JSON-schema validation.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

type registryEntry struct {
	spec     coremodels.ToolSpec
	compiled *compiledSchema
}

// Registry is the process-wide, read-only-after-init Tool Registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registryEntry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registryEntry)}
}

// Register compiles spec's ArgsSchema, validates ExampleArgs against it
// (spec.md section 8 "Args-schema example validity"), and adds the tool.
// Register returns an error rather than panicking so a caller can treat a
// malformed tool table as a startup failure.
func (r *Registry) Register(spec coremodels.ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec missing name")
	}
	if len(spec.Name) > MaxToolNameLength {
		return fmt.Errorf("tool name %q exceeds max length", spec.Name)
	}

	raw := spec.ArgsSchema
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	}
	compiled, err := compileArgsSchema(spec.Name, raw)
	if err != nil {
		return fmt.Errorf("tool %q: %w", spec.Name, err)
	}

	if len(spec.ExampleArgs) > 0 {
		var exampleVal any
		if err := json.Unmarshal(spec.ExampleArgs, &exampleVal); err != nil {
			return fmt.Errorf("tool %q: decode example_args: %w", spec.Name, err)
		}
		if err := compiled.validate(exampleVal); err != nil {
			return fmt.Errorf("tool %q: example_args fails its own args_schema: %w", spec.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = &registryEntry{spec: spec, compiled: compiled}
	return nil
}

// Unregister removes a tool, used mainly by tests.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the ToolSpec for name, if registered.
func (r *Registry) Get(name string) (coremodels.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return coremodels.ToolSpec{}, false
	}
	return e.spec, true
}

// ListVisible returns every ToolSpec with VisibleInPrompt=true, sorted by
// name for deterministic tool-manifest rendering.
func (r *Registry) ListVisible() []coremodels.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]coremodels.ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		if e.spec.VisibleInPrompt {
			out = append(out, e.spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidationError is returned by ValidateArgs on schema-validation
// failure. It carries the accepted argument names and, when a passed key
// closely matches a known name, a suggested correction — matching
// spec.md section 4.2's E_INVALID_ARGS payload shape.
type ValidationError struct {
	ToolName      string
	Message       string
	AcceptedArgs  []string
	SuggestedArg  string
	SuggestedFrom string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid args for %q: %s", e.ToolName, e.Message)
	if e.SuggestedArg != "" {
		msg += fmt.Sprintf(" (did you mean %q instead of %q?)", e.SuggestedArg, e.SuggestedFrom)
	}
	return msg
}

// ValidateArgs runs rawArgs against tool_name's compiled args_schema.
// On failure it returns a *ValidationError listing accepted argument
// names and a best-guess correction for an unrecognized key.
func (r *Registry) ValidateArgs(toolName string, rawArgs json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrToolNotFound
	}
	if len(rawArgs) > MaxToolParamsSize {
		return nil, &ValidationError{
			ToolName:     toolName,
			Message:      fmt.Sprintf("args exceed %d bytes", MaxToolParamsSize),
			AcceptedArgs: e.compiled.acceptedArgs,
		}
	}

	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(rawArgs, &decoded); err != nil {
		return nil, &ValidationError{
			ToolName:     toolName,
			Message:      fmt.Sprintf("args is not valid JSON: %v", err),
			AcceptedArgs: e.compiled.acceptedArgs,
		}
	}

	if err := e.compiled.validate(decoded); err != nil {
		ve := &ValidationError{
			ToolName:     toolName,
			Message:      err.Error(),
			AcceptedArgs: e.compiled.acceptedArgs,
		}
		if obj, ok := decoded.(map[string]any); ok {
			for k := range obj {
				if !containsString(e.compiled.acceptedArgs, k) {
					if best := closestName(k, e.compiled.acceptedArgs); best != "" {
						ve.SuggestedArg = best
						ve.SuggestedFrom = k
					}
				}
			}
		}
		return nil, ve
	}

	return rawArgs, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// closestName returns the accepted name with the smallest Levenshtein
// distance to got, when that distance is small enough to plausibly be a
// typo (<=2, and shorter than the candidate's own length).
func closestName(got string, accepted []string) string {
	best := ""
	bestDist := -1
	for _, cand := range accepted {
		d := levenshtein(got, cand)
		if d > 2 || d >= len(cand) {
			continue
		}
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = cand
		}
	}
	return best
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// AsManifestText renders the visible tools as a compact tool manifest,
// used by the orchestrator to build the composed system prompt.
func (r *Registry) AsManifestText() string {
	var b strings.Builder
	for _, spec := range r.ListVisible() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Summary)
	}
	return b.String()
}
