package promptprofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

func TestRegistryMalformedFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt_profiles.yaml")
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(path)
	got := r.Get("anything")
	if got.Name != DefaultProfile().Name {
		t.Fatalf("expected fallback to default profile, got %+v", got)
	}
	if len(r.Warnings()) == 0 {
		t.Fatal("expected a recorded warning for malformed file")
	}
}

func TestRegistryMissingFileNeverCrashes(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	got := r.Get("whatever")
	if got.Name != DefaultProfile().Name {
		t.Fatalf("expected default profile for missing file, got %+v", got)
	}
}

func TestRegistryLoadsNamedProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt_profiles.yaml")
	doc := `
profiles:
  coding:
    risk_level: MEDIUM
    planning_enabled: true
    system_refs:
      core:
        path: prompts/core.md
      role:
        path: prompts/role_coding.md
      policy:
        path: prompts/policy_coding.md
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(path)
	got := r.Get("coding")
	if got.Name != "coding" || got.RiskLevel != coremodels.RiskMedium || !got.PlanningEnabled {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestParseAssetStripsFrontMatter(t *testing.T) {
	data := []byte("---\ntitle: Core\nversion: 1.0.0\n---\nHello {{ name }}.\n")
	asset, err := parseAsset(data)
	if err != nil {
		t.Fatal(err)
	}
	if asset.Title != "Core" || asset.Version != "1.0.0" {
		t.Fatalf("front matter not parsed: %+v", asset)
	}
	if asset.Body != "Hello {{ name }}." {
		t.Fatalf("unexpected body: %q", asset.Body)
	}
}

func TestSubstituteLeavesUnknownVarsUntouched(t *testing.T) {
	out := Substitute("hi {{ name }}, {{ unknown }}", map[string]string{"name": "Ada"})
	if out != "hi Ada, {{ unknown }}" {
		t.Fatalf("unexpected substitution result: %q", out)
	}
}

func TestComposeSystemPromptConcatenatesSlots(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "core.md"), "CORE")
	mustWrite(t, filepath.Join(dir, "role.md"), "ROLE")
	mustWrite(t, filepath.Join(dir, "policy.md"), "POLICY")

	profile := coremodels.PromptProfile{
		SystemRefs: coremodels.SystemRefs{
			Core:   coremodels.PromptRef{Path: "core.md"},
			Role:   coremodels.PromptRef{Path: "role.md"},
			Policy: coremodels.PromptRef{Path: "policy.md"},
		},
	}
	c := NewComposer(NewLoader(), dir)
	out, err := c.ComposeSystemPrompt(profile, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "CORE\n\nROLE\n\nPOLICY"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
