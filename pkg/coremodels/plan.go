package coremodels

import "encoding/json"

// PlanStepStatus is the lifecycle status of one PlanStep.
type PlanStepStatus string

const (
	StepPending    PlanStepStatus = "pending"
	StepInProgress PlanStepStatus = "in_progress"
	StepDone       PlanStepStatus = "done"
	StepFailed     PlanStepStatus = "failed"
	StepBlocked    PlanStepStatus = "blocked"
	StepSkipped    PlanStepStatus = "skipped"
)

// VerificationMode names the kind of check a FullPlan's verification
// block runs after step execution.
type VerificationMode string

const (
	VerifyNone   VerificationMode = "none"
	VerifyLint   VerificationMode = "lint"
	VerifyTest   VerificationMode = "test"
	VerifyBuild  VerificationMode = "build"
	VerifyCustom VerificationMode = "custom"
)

// Verification describes the post-execution check a FullPlan requests.
type Verification struct {
	Mode        VerificationMode `json:"mode"`
	Commands    []string         `json:"commands,omitempty"`
	Required    bool             `json:"required"`
	StopOnFail  bool             `json:"stop_on_fail"`
}

// PlanStep is one node of a FullPlan's dependency DAG.
type PlanStep struct {
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	Dependencies  []string       `json:"dependencies,omitempty"`
	ToolsExpected []string       `json:"tools_expected,omitempty"`
	Status        PlanStepStatus `json:"status"`
	Artifacts     []string       `json:"artifacts,omitempty"`
	RollbackHint  string         `json:"rollback_hint,omitempty"`
}

// FullPlan is the tagged-union plan representation. Type is always
// "FullPlan"; spec.md section 9's open question treats this tag, not
// "Plan", as authoritative.
type FullPlan struct {
	Type         string       `json:"type"`
	Title        string       `json:"title"`
	Constraints  []string     `json:"constraints,omitempty"`
	Steps        []PlanStep   `json:"steps"`
	Verification Verification `json:"verification"`
	RiskLevel    RiskLevel    `json:"risk_level"`
}

// FullPlanTypeTag is the mandatory discriminator value for FullPlan
// payloads.
const FullPlanTypeTag = "FullPlan"

// PartialStep carries only the fields a PlanPatch update wants to
// change; zero-value fields are left untouched by ApplyPatch. ID is
// always required to target the step.
type PartialStep struct {
	ID            string          `json:"id"`
	Description   *string         `json:"description,omitempty"`
	Dependencies  *[]string       `json:"dependencies,omitempty"`
	ToolsExpected *[]string       `json:"tools_expected,omitempty"`
	Status        *PlanStepStatus `json:"status,omitempty"`
	Artifacts     *[]string       `json:"artifacts,omitempty"`
	RollbackHint  *string         `json:"rollback_hint,omitempty"`
}

// PlanPatch is an incremental edit applied to an existing FullPlan.
type PlanPatch struct {
	Type   string        `json:"type"`
	Remove []string      `json:"remove,omitempty"`
	Update []PartialStep `json:"update,omitempty"`
	Add    []PlanStep    `json:"add,omitempty"`
}

// PlanPatchTypeTag is the mandatory discriminator value for PlanPatch
// payloads.
const PlanPatchTypeTag = "PlanPatch"

// IsEmpty reports whether the patch touches nothing, used by the
// idempotence round-trip law in spec.md section 8.
func (p PlanPatch) IsEmpty() bool {
	return len(p.Remove) == 0 && len(p.Update) == 0 && len(p.Add) == 0
}

// MarshalCanonicalJSON renders v with sorted map keys via the standard
// library's default map-key ordering. The Tool Result Cache does not
// call it; it builds its CacheKey with its own canonicalize helper.
func MarshalCanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
