package planner

import (
	"strings"
	"testing"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

const samplePlan = `Sure, here is the plan:
` + "```json\n" + `{
  "type": "FullPlan",
  "title": "read a file",
  "steps": [
    {"id": "s1", "description": "read file", "tools_expected": ["read_file"], "status": "pending"}
  ],
  "verification": {"mode": "none", "required": false, "stop_on_fail": false},
  "risk_level": "LOW"
}
` + "```\nLet me know if that works."

func TestParsePlanExtractsFromFencedProse(t *testing.T) {
	plan, err := ParsePlan(samplePlan)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Title != "read a file" || len(plan.Steps) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestParsePlanRejectsCycle(t *testing.T) {
	raw := `{
  "type": "FullPlan",
  "title": "cyclic",
  "steps": [
    {"id": "a", "description": "a", "dependencies": ["b"]},
    {"id": "b", "description": "b", "dependencies": ["a"]}
  ],
  "verification": {"mode": "none"},
  "risk_level": "LOW"
}`
	_, err := ParsePlan(raw)
	if err == nil {
		t.Fatal("expected cycle detection error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle-related error, got: %v", err)
	}
}

func TestParsePlanRejectsDuplicateIDs(t *testing.T) {
	raw := `{"type":"FullPlan","title":"dup","steps":[{"id":"a","description":"x"},{"id":"a","description":"y"}],"verification":{"mode":"none"},"risk_level":"LOW"}`
	if _, err := ParsePlan(raw); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestParsePlanRejectsUnknownDependency(t *testing.T) {
	raw := `{"type":"FullPlan","title":"bad dep","steps":[{"id":"a","description":"x","dependencies":["ghost"]}],"verification":{"mode":"none"},"risk_level":"LOW"}`
	if _, err := ParsePlan(raw); err == nil {
		t.Fatal("expected unknown-dependency error")
	}
}

func TestRenderPlanRoundTrips(t *testing.T) {
	plan, err := ParsePlan(samplePlan)
	if err != nil {
		t.Fatal(err)
	}
	rendered, err := RenderPlan(plan)
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := ParsePlan(rendered)
	if err != nil {
		t.Fatal(err)
	}
	if reparsed.Title != plan.Title || len(reparsed.Steps) != len(plan.Steps) {
		t.Fatalf("round trip mismatch: %+v vs %+v", plan, reparsed)
	}
}

func basePlan() coremodels.FullPlan {
	return coremodels.FullPlan{
		Type:  coremodels.FullPlanTypeTag,
		Title: "base",
		Steps: []coremodels.PlanStep{
			{ID: "a", Description: "first", Status: coremodels.StepPending},
			{ID: "b", Description: "second", Dependencies: []string{"a"}, Status: coremodels.StepPending},
		},
		Verification: coremodels.Verification{Mode: coremodels.VerifyNone},
		RiskLevel:    coremodels.RiskLow,
	}
}

func TestApplyPatchEmptyIsNoOp(t *testing.T) {
	plan := basePlan()
	next, err := ApplyPatch(plan, coremodels.PlanPatch{Type: coremodels.PlanPatchTypeTag})
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Steps) != len(plan.Steps) {
		t.Fatalf("expected no-op, got %+v", next)
	}
}

func TestApplyPatchPreservesUntouchedStatus(t *testing.T) {
	plan := basePlan()
	plan.Steps[0].Status = coremodels.StepDone
	desc := "second, revised"
	patch := coremodels.PlanPatch{
		Type:   coremodels.PlanPatchTypeTag,
		Update: []coremodels.PartialStep{{ID: "b", Description: &desc}},
	}
	next, err := ApplyPatch(plan, patch)
	if err != nil {
		t.Fatal(err)
	}
	var got coremodels.PlanStep
	for _, s := range next.Steps {
		if s.ID == "b" {
			got = s
		}
	}
	if got.Description != desc {
		t.Fatalf("description not updated: %+v", got)
	}
	if got.Status != coremodels.StepPending {
		t.Fatalf("status should be untouched (still pending), got %v", got.Status)
	}
}

func TestApplyPatchRejectsOverlappingIDs(t *testing.T) {
	plan := basePlan()
	patch := coremodels.PlanPatch{
		Type:   coremodels.PlanPatchTypeTag,
		Remove: []string{"a"},
		Update: []coremodels.PartialStep{{ID: "a"}},
	}
	if _, err := ApplyPatch(plan, patch); err == nil {
		t.Fatal("expected disjointness error")
	}
}

func TestApplyPatchRejectsCycleIntroducedByAdd(t *testing.T) {
	plan := basePlan()
	patch := coremodels.PlanPatch{
		Type: coremodels.PlanPatchTypeTag,
		Add: []coremodels.PlanStep{
			{ID: "c", Description: "c", Dependencies: []string{"d"}},
			{ID: "d", Description: "d", Dependencies: []string{"c"}},
		},
	}
	if _, err := ApplyPatch(plan, patch); err == nil {
		t.Fatal("expected cycle error from added steps")
	}
}

// TestApplyPatchRejectsLiteralReapplicationOfNonEmptyPatch documents the
// intended reading of spec.md section 8's idempotence property: it is
// the *second, empty* apply that is a no-op, not a verbatim resend of
// the same non-empty patch. A replan-retry that wants to be safe against
// having already applied patch must diff against the resulting plan and
// resend only what is still outstanding, not patch itself.
func TestApplyPatchRejectsLiteralReapplicationOfNonEmptyPatch(t *testing.T) {
	plan := basePlan()
	desc := "second, revised"
	patch := coremodels.PlanPatch{
		Type:   coremodels.PlanPatchTypeTag,
		Remove: []string{"a"},
		Update: []coremodels.PartialStep{{ID: "b", Description: &desc}},
	}

	once, err := ApplyPatch(plan, patch)
	if err != nil {
		t.Fatalf("first apply should succeed: %v", err)
	}

	if _, err := ApplyPatch(once, patch); err == nil {
		t.Fatal("expected literal reapplication of the same non-empty patch to fail (step 'a' no longer exists to remove)")
	}

	// The safe form of a retry is to resend an empty patch once
	// everything in the original has already landed.
	noop, err := ApplyPatch(once, coremodels.PlanPatch{Type: coremodels.PlanPatchTypeTag})
	if err != nil {
		t.Fatalf("empty-patch retry should be a no-op, got error: %v", err)
	}
	if len(noop.Steps) != len(once.Steps) {
		t.Fatalf("expected empty-patch retry to be a no-op, got %+v", noop)
	}
}

func TestReadyRespectsDependencies(t *testing.T) {
	plan := basePlan()
	ready := Ready(plan.Steps)
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected only 'a' ready, got %v", ready)
	}
	plan.Steps[0].Status = coremodels.StepDone
	ready = Ready(plan.Steps)
	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("expected only 'b' ready after 'a' done, got %v", ready)
	}
}

func TestDeadlockedDetectsAllBlockedOrFailed(t *testing.T) {
	plan := basePlan()
	plan.Steps[0].Status = coremodels.StepFailed
	MarkBlocked(plan.Steps)
	if !Deadlocked(plan.Steps) {
		t.Fatal("expected deadlock once dependency failed and dependent blocked")
	}
}
