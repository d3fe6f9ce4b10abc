package planner

import (
	"encoding/json"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ParsePatch extracts and decodes a PlanPatch from raw model text, the
// same way ParsePlan does for a FullPlan.
func ParsePatch(text string) (coremodels.PlanPatch, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return coremodels.PlanPatch{}, planErrf("extract patch JSON: %v", err)
	}
	var patch coremodels.PlanPatch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		return coremodels.PlanPatch{}, planErrf("decode PlanPatch: %v", err)
	}
	if patch.Type != coremodels.PlanPatchTypeTag {
		return coremodels.PlanPatch{}, planErrf("type field is %q, want %q", patch.Type, coremodels.PlanPatchTypeTag)
	}
	return patch, nil
}

// ApplyPatch applies patch to plan per spec.md section 3's invariant:
// remove/update/add ids must be disjoint; remove/update ids must exist;
// add ids must be fresh; applying in order remove -> update -> add must
// still form a DAG. Status of steps untouched by update is preserved.
// The original plan is never mutated; ApplyPatch returns a new FullPlan.
//
// spec.md section 8's idempotence property ("applying the same PlanPatch
// twice with an empty second-apply diff is a no-op") is about the
// *second* apply being empty, not about resending the same non-empty
// patch twice: a non-empty patch is a one-shot transition, not an
// idempotent write. Literally reapplying a patch already folded into
// plan hard-fails (its remove/update ids are gone, its add ids already
// exist) by design, the same way a second `git apply` of an already-applied
// diff fails. A caller that wants replan-retry safety against a patch it
// already applied must diff against the current plan and resend only
// what is still outstanding (in the limit, an empty patch), not resend
// the original patch verbatim.
func ApplyPatch(plan coremodels.FullPlan, patch coremodels.PlanPatch) (coremodels.FullPlan, error) {
	if err := validateDisjoint(patch); err != nil {
		return coremodels.FullPlan{}, err
	}

	existing := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		existing[s.ID] = true
	}
	for _, id := range patch.Remove {
		if !existing[id] {
			return coremodels.FullPlan{}, planErrf("remove references unknown step %q", id)
		}
	}
	for _, u := range patch.Update {
		if !existing[u.ID] {
			return coremodels.FullPlan{}, planErrf("update references unknown step %q", u.ID)
		}
	}
	for _, a := range patch.Add {
		if existing[a.ID] {
			return coremodels.FullPlan{}, planErrf("add references existing step %q, ids must be fresh", a.ID)
		}
	}

	removeSet := make(map[string]bool, len(patch.Remove))
	for _, id := range patch.Remove {
		removeSet[id] = true
	}
	updateByID := make(map[string]coremodels.PartialStep, len(patch.Update))
	for _, u := range patch.Update {
		updateByID[u.ID] = u
	}

	next := plan
	next.Steps = make([]coremodels.PlanStep, 0, len(plan.Steps)+len(patch.Add))
	for _, s := range plan.Steps {
		if removeSet[s.ID] {
			continue
		}
		if u, ok := updateByID[s.ID]; ok {
			s = applyPartial(s, u)
		}
		next.Steps = append(next.Steps, s)
	}
	next.Steps = append(next.Steps, patch.Add...)
	for i := range next.Steps {
		if next.Steps[i].Status == "" {
			next.Steps[i].Status = coremodels.StepPending
		}
	}

	if err := ValidateDAG(next.Steps); err != nil {
		return coremodels.FullPlan{}, err
	}
	return next, nil
}

func validateDisjoint(patch coremodels.PlanPatch) error {
	seen := make(map[string]string, len(patch.Remove)+len(patch.Update)+len(patch.Add))
	check := func(id, group string) error {
		if other, ok := seen[id]; ok {
			return planErrf("id %q referenced in both %s and %s", id, other, group)
		}
		seen[id] = group
		return nil
	}
	for _, id := range patch.Remove {
		if err := check(id, "remove"); err != nil {
			return err
		}
	}
	for _, u := range patch.Update {
		if err := check(u.ID, "update"); err != nil {
			return err
		}
	}
	for _, a := range patch.Add {
		if err := check(a.ID, "add"); err != nil {
			return err
		}
	}
	return nil
}

// applyPartial overlays the non-nil fields of u onto s, leaving
// zero-value (nil) fields untouched — so Status survives when an update
// only changes, say, Description.
func applyPartial(s coremodels.PlanStep, u coremodels.PartialStep) coremodels.PlanStep {
	if u.Description != nil {
		s.Description = *u.Description
	}
	if u.Dependencies != nil {
		s.Dependencies = *u.Dependencies
	}
	if u.ToolsExpected != nil {
		s.ToolsExpected = *u.ToolsExpected
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Artifacts != nil {
		s.Artifacts = *u.Artifacts
	}
	if u.RollbackHint != nil {
		s.RollbackHint = *u.RollbackHint
	}
	return s
}
