package intent

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cluderun/agentcore/internal/promptprofile"
	"github.com/cluderun/agentcore/pkg/coremodels"
)

// RegistryFile is the well-known path from spec.md section 6.
const RegistryFile = ".clude/registry/intents.yaml"

// intentsDoc is the on-disk shape of intents.yaml: a default mapping
// plus optional per-project overrides.
type intentsDoc struct {
	Default map[coremodels.Intent]string            `yaml:"default"`
	Project map[string]map[coremodels.Intent]string `yaml:"projects"`
}

// defaultMapping is used when the registry file is absent or malformed.
// GENERAL_CHAT and CAPABILITY_INQUIRY always disable planning per
// spec.md section 4.10, enforced in Router.ProfileFor regardless of
// what a project's registry maps them to.
var defaultMapping = map[coremodels.Intent]string{
	coremodels.IntentCodingTask:          "coding",
	coremodels.IntentErrorDiagnosis:      "coding",
	coremodels.IntentRepoAnalysis:        "coding",
	coremodels.IntentTechnicalConsulting: "consulting",
	coremodels.IntentGeneralChat:         "chat",
	coremodels.IntentCapabilityInquiry:   "chat",
	coremodels.IntentUncertain:           "coding",
}

// planningDisabledIntents is the fixed set spec.md section 4.10 pins
// regardless of registry content.
var planningDisabledIntents = map[coremodels.Intent]bool{
	coremodels.IntentGeneralChat:       true,
	coremodels.IntentCapabilityInquiry: true,
}

// Router maps a resolved Intent (optionally scoped to a project id) to a
// PromptProfile, consulting intents.yaml and promptprofile.Registry.
type Router struct {
	path     string
	profiles *promptprofile.Registry

	mu      sync.RWMutex
	mapping map[coremodels.Intent]string
	byProj  map[string]map[coremodels.Intent]string
	mtime   time.Time
}

// NewRouter constructs a Router, loading intentsPath (or RegistryFile if
// empty) and wiring profiles for the profile lookup step. A missing or
// malformed intents file falls back to defaultMapping, never erroring.
func NewRouter(intentsPath string, profiles *promptprofile.Registry) *Router {
	if intentsPath == "" {
		intentsPath = RegistryFile
	}
	r := &Router{path: intentsPath, profiles: profiles}
	r.reload()
	return r
}

func (r *Router) reload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		r.mapping = defaultMapping
		return
	}
	var doc intentsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Default) == 0 {
		r.mapping = defaultMapping
		return
	}
	r.mapping = doc.Default
	r.byProj = doc.Project
	if fi, err := os.Stat(r.path); err == nil {
		r.mtime = fi.ModTime()
	}
}

func (r *Router) maybeReload() {
	fi, err := os.Stat(r.path)
	if err != nil {
		return
	}
	r.mu.RLock()
	stale := fi.ModTime().After(r.mtime)
	r.mu.RUnlock()
	if stale {
		r.reload()
	}
}

// profileName resolves intent to a profile name, preferring a
// project-scoped override when projectID is non-empty and present.
func (r *Router) profileName(projectID string, in coremodels.Intent) string {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()

	if projectID != "" {
		if scoped, ok := r.byProj[projectID]; ok {
			if name, ok := scoped[in]; ok {
				return name
			}
		}
	}
	if name, ok := r.mapping[in]; ok {
		return name
	}
	return defaultMapping[in]
}

// ProfileFor resolves the PromptProfile for intent within projectID
// (empty for no project scoping), forcing PlanningEnabled=false for
// GENERAL_CHAT/CAPABILITY_INQUIRY regardless of what the resolved
// profile declares, per spec.md section 4.10.
func (r *Router) ProfileFor(projectID string, in coremodels.Intent) coremodels.PromptProfile {
	name := r.profileName(projectID, in)
	profile := r.profiles.Get(name)
	if planningDisabledIntents[in] {
		profile.PlanningEnabled = false
	}
	return profile
}

// Validate reports an error if in is not a recognized intent category,
// used by callers that want to fail loudly on a malformed classifier
// result rather than silently falling through to the default mapping.
func Validate(in coremodels.Intent) error {
	if !closedCategories[in] {
		return fmt.Errorf("intent %q is not a member of the closed category set", in)
	}
	return nil
}
