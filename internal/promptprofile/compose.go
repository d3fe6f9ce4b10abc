package promptprofile

import (
	"fmt"
	"regexp"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Composer loads and concatenates a PromptProfile's four system-prompt
// slots, then renders the user template, per spec.md section 3:
// "Composition is: core + \"\n\n\" + role + \"\n\n\" + policy + \"\n\n\"
// + context, variables substituted, YAML front matter stripped."
type Composer struct {
	loader  *Loader
	baseDir string
}

// NewComposer constructs a Composer rooted at baseDir (the directory
// prompt refs are resolved relative to).
func NewComposer(loader *Loader, baseDir string) *Composer {
	if loader == nil {
		loader = NewLoader()
	}
	return &Composer{loader: loader, baseDir: baseDir}
}

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Substitute renders {{ var }} placeholders in tmpl against vars,
// leaving unmatched placeholders untouched — spec.md section 6: "a
// simple-substitution template... no embedded control flow."
func Substitute(tmpl string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		if v, ok := vars[sub[1]]; ok {
			return v
		}
		return m
	})
}

// ComposeSystemPrompt loads profile's core/role/policy/context refs (a
// ref with an empty Path is skipped rather than erroring, since not
// every profile populates every slot) and concatenates their bodies with
// a blank line between each populated slot, substituting vars in each
// slot before joining.
func (c *Composer) ComposeSystemPrompt(profile coremodels.PromptProfile, vars map[string]string) (string, error) {
	refs := profile.SystemRefs
	slots := []struct {
		name string
		ref  coremodels.PromptRef
	}{
		{"core", refs.Core},
		{"role", refs.Role},
		{"policy", refs.Policy},
		{"context", refs.Context},
	}

	var parts []string
	for _, s := range slots {
		if s.ref.Path == "" {
			continue
		}
		path, err := ResolveVersion(c.baseDir, s.ref)
		if err != nil {
			return "", fmt.Errorf("resolve %s ref: %w", s.name, err)
		}
		asset, err := c.loader.Load(path)
		if err != nil {
			return "", fmt.Errorf("load %s prompt: %w", s.name, err)
		}
		parts = append(parts, Substitute(asset.Body, vars))
	}

	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out, nil
}

// RenderUserTemplate loads and substitutes profile's user template ref.
func (c *Composer) RenderUserTemplate(ref coremodels.PromptRef, vars map[string]string) (string, error) {
	path, err := ResolveVersion(c.baseDir, ref)
	if err != nil {
		return "", err
	}
	asset, err := c.loader.Load(path)
	if err != nil {
		return "", err
	}
	return Substitute(asset.Body, vars), nil
}
