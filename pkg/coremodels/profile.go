package coremodels

// PromptRef points to a single prompt asset, optionally pinned to a
// semantic version; an empty Version means "current" per the sidecar
// prompt_versions.json pointer file.
type PromptRef struct {
	Path    string `yaml:"path" json:"path"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// SystemRefs names the four composition slots for a profile's system
// prompt: core + role + policy + context, concatenated in that order
// with a blank line between each (spec.md section 3).
type SystemRefs struct {
	Core    PromptRef `yaml:"core" json:"core"`
	Role    PromptRef `yaml:"role" json:"role"`
	Policy  PromptRef `yaml:"policy" json:"policy"`
	Context PromptRef `yaml:"context" json:"context"`
}

// PromptProfile is a named bundle of system-prompt layers, a user
// template, a risk level, and whether planning is enabled for the
// intent categories mapped to it.
type PromptProfile struct {
	Name           string     `yaml:"name" json:"name"`
	RiskLevel      RiskLevel  `yaml:"risk_level" json:"risk_level"`
	SystemRefs     SystemRefs `yaml:"system_refs" json:"system_refs"`
	UserTemplate   PromptRef  `yaml:"user_template_ref" json:"user_template_ref"`
	PlanningEnabled bool      `yaml:"planning_enabled" json:"planning_enabled"`
}

// Intent is a closed-set classification label produced by the Intent
// Classifier.
type Intent string

const (
	IntentCodingTask          Intent = "CODING_TASK"
	IntentErrorDiagnosis      Intent = "ERROR_DIAGNOSIS"
	IntentRepoAnalysis        Intent = "REPO_ANALYSIS"
	IntentTechnicalConsulting Intent = "TECHNICAL_CONSULTING"
	IntentGeneralChat         Intent = "GENERAL_CHAT"
	IntentCapabilityInquiry   Intent = "CAPABILITY_INQUIRY"
	IntentUncertain           Intent = "UNCERTAIN"
)
