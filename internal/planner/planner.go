// Package planner parses and validates FullPlan/PlanPatch JSON payloads
// (spec.md section 4.7): extraction of the outermost JSON object from
// prose-wrapped model output, step-id uniqueness, dependency-DAG
// acyclicity, and incremental patch application.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// PlanError is the typed error for any plan-validation failure, mirroring
// the teacher's internal/agent/errors.go typed-error style (ToolError).
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string { return "plan error: " + e.Reason }

func planErrf(format string, args ...any) error {
	return &PlanError{Reason: fmt.Sprintf(format, args...)}
}

// ParsePlan extracts the outermost valid JSON object from text (tolerating
// leading/trailing prose, including a fenced code block), validates it
// against the FullPlan shape, and checks step-id uniqueness, dependency
// resolution, and DAG acyclicity (spec.md section 4.7, section 8's "DAG
// safety" property).
func ParsePlan(text string) (coremodels.FullPlan, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return coremodels.FullPlan{}, planErrf("extract plan JSON: %v", err)
	}

	var plan coremodels.FullPlan
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&plan); err != nil {
		return coremodels.FullPlan{}, planErrf("decode FullPlan: %v", err)
	}
	if plan.Type != coremodels.FullPlanTypeTag {
		return coremodels.FullPlan{}, planErrf("type field is %q, want %q", plan.Type, coremodels.FullPlanTypeTag)
	}
	if len(plan.Steps) == 0 {
		return coremodels.FullPlan{}, planErrf("plan has no steps")
	}
	for i := range plan.Steps {
		if plan.Steps[i].Status == "" {
			plan.Steps[i].Status = coremodels.StepPending
		}
	}
	if err := ValidateDAG(plan.Steps); err != nil {
		return coremodels.FullPlan{}, err
	}
	return plan, nil
}

// RenderPlan serializes p back to JSON, used by the round-trip law in
// spec.md section 8: parse_plan(render_plan(p)) == p.
func RenderPlan(p coremodels.FullPlan) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("render plan: %w", err)
	}
	return string(raw), nil
}

// ValidateDAG checks unique step ids, that every dependency reference
// resolves to a known step, and that the dependency graph has no cycle.
func ValidateDAG(steps []coremodels.PlanStep) error {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return planErrf("step has empty id")
		}
		if seen[s.ID] {
			return planErrf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if !seen[dep] {
				return planErrf("step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}
	return detectCycle(steps)
}

// detectCycle runs a standard white/gray/black DFS over the dependency
// adjacency lists (spec.md section 9: "encode this with adjacency lists
// over step ids... compute topological readiness on the fly").
func detectCycle(steps []coremodels.PlanStep) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[string]coremodels.PlanStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	color := make(map[string]int, len(steps))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch color[id] {
		case gray:
			return planErrf("dependency cycle detected: %s -> %s", strings.Join(path, " -> "), id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if err := visit(s.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractJSONObject finds the outermost balanced `{...}` in text,
// unwrapping a fenced code block first if the whole trimmed text is one.
func extractJSONObject(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed[idx+1:]), "```")
			trimmed = strings.TrimSpace(trimmed)
		}
	}

	start := strings.IndexByte(trimmed, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		c := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return trimmed[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object")
}
